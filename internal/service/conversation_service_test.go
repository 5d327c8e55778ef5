package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/errs"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestInitializeCreatesChatWhenListIsEmpty(t *testing.T) {
	repo := newFakeConvRepo()
	svc := NewConversationService(repo)

	snapshot, err := svc.Initialize(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.Current == "" {
		t.Fatal("expected a new conversation to be selected")
	}

	empties, _ := repo.ListEmpty(context.Background(), 1)
	if len(empties) != 1 {
		t.Fatalf("expected exactly one empty conversation, got %d", len(empties))
	}
	if empties[0].ID != snapshot.Current {
		t.Fatalf("current %q is not the created conversation %q", snapshot.Current, empties[0].ID)
	}
	if empties[0].Title != DefaultChatTitle {
		t.Fatalf("unexpected title: %q", empties[0].Title)
	}
}

func TestInitializeCleansUpStaleEmptyConversations(t *testing.T) {
	repo := newFakeConvRepo()
	repo.add(1, DefaultChatTitle, nil)
	repo.add(1, DefaultChatTitle, nil)
	active := repo.add(1, "Premium pay", timePtr(time.Now()))
	svc := NewConversationService(repo)

	snapshot, err := svc.Initialize(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	empties, _ := repo.ListEmpty(context.Background(), 1)
	if len(empties) != 0 {
		t.Fatalf("expected stale empty conversations to be removed, got %d", len(empties))
	}
	if snapshot.Current != active.ID {
		t.Fatalf("expected most recent active conversation selected, got %q", snapshot.Current)
	}
}

func TestInitializeSelectsMostRecentConversation(t *testing.T) {
	repo := newFakeConvRepo()
	repo.add(1, "older", timePtr(time.Now().Add(-time.Hour)))
	newest := repo.add(1, "newest", timePtr(time.Now()))
	svc := NewConversationService(repo)

	snapshot, err := svc.Initialize(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.Current != newest.ID {
		t.Fatalf("expected %q selected, got %q", newest.ID, snapshot.Current)
	}
	if len(snapshot.Conversations) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(snapshot.Conversations))
	}
}

func TestCreateNewChatReplacesExistingEmptyConversation(t *testing.T) {
	repo := newFakeConvRepo()
	stale := repo.add(1, DefaultChatTitle, nil)
	svc := NewConversationService(repo)

	id, err := svc.CreateNewChat(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" || id == stale.ID {
		t.Fatalf("expected a fresh conversation id, got %q", id)
	}

	empties, _ := repo.ListEmpty(context.Background(), 1)
	if len(empties) != 1 || empties[0].ID != id {
		t.Fatalf("expected the new chat to be the only empty conversation: %+v", empties)
	}
	if svc.Current(1) != id {
		t.Fatalf("expected new chat selected, current is %q", svc.Current(1))
	}
}

func TestInitializeRecoversAfterAutoCreateFailure(t *testing.T) {
	repo := newFakeConvRepo()
	repo.createErr = errors.New("insert failed")
	svc := NewConversationService(repo)

	if _, err := svc.Initialize(context.Background(), 1); err == nil {
		t.Fatal("expected error when the automatic create fails")
	}

	// 故障恢复后，下一次初始化必须重新走完整流程并建出会话。
	repo.createErr = nil
	snapshot, err := svc.Initialize(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.Current == "" {
		t.Fatal("expected an active conversation after a retried initialize")
	}
	empties, _ := repo.ListEmpty(context.Background(), 1)
	if len(empties) != 1 || empties[0].ID != snapshot.Current {
		t.Fatalf("expected the retried initialize to create and select a conversation: %+v", empties)
	}
}

func TestCreateNewChatIsSingleFlight(t *testing.T) {
	repo := newFakeConvRepo()
	repo.createBlock = make(chan struct{})
	svc := NewConversationService(repo)

	var wg sync.WaitGroup
	wg.Add(1)
	var firstID string
	var firstErr error
	go func() {
		defer wg.Done()
		firstID, firstErr = svc.CreateNewChat(context.Background(), 1)
	}()

	// 等首个创建进入阻塞点后再发起第二次。
	time.Sleep(20 * time.Millisecond)
	secondID, err := svc.CreateNewChat(context.Background(), 1)
	if err != nil {
		t.Fatalf("concurrent create should be a no-op, got error %v", err)
	}
	if secondID != "" {
		t.Fatalf("concurrent create should return empty id, got %q", secondID)
	}

	close(repo.createBlock)
	wg.Wait()
	if firstErr != nil {
		t.Fatalf("unexpected error from first create: %v", firstErr)
	}
	if firstID == "" {
		t.Fatal("first create should have produced a conversation")
	}
	repo.mu.Lock()
	total := len(repo.conversations)
	repo.mu.Unlock()
	if total != 1 {
		t.Fatalf("expected a single conversation, got %d", total)
	}
}

func TestSelectConversationRejectsUnknownID(t *testing.T) {
	repo := newFakeConvRepo()
	svc := NewConversationService(repo)

	err := svc.SelectConversation(context.Background(), 1, "missing")
	if !errs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDeleteCurrentConversationSelectsNext(t *testing.T) {
	repo := newFakeConvRepo()
	first := repo.add(1, "first", timePtr(time.Now()))
	second := repo.add(1, "second", timePtr(time.Now().Add(-time.Minute)))
	svc := NewConversationService(repo)
	if _, err := svc.Initialize(context.Background(), 1); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if err := svc.DeleteConversation(context.Background(), 1, first.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.Current(1) != second.ID {
		t.Fatalf("expected next conversation selected, got %q", svc.Current(1))
	}
	if _, err := repo.Get(context.Background(), 1, first.ID); err == nil {
		t.Fatal("expected conversation to be deleted")
	}
}

func TestDeleteLastConversationCreatesReplacement(t *testing.T) {
	repo := newFakeConvRepo()
	only := repo.add(1, "only", timePtr(time.Now()))
	svc := NewConversationService(repo)
	if _, err := svc.Initialize(context.Background(), 1); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if err := svc.DeleteConversation(context.Background(), 1, only.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	current := svc.Current(1)
	if current == "" || current == only.ID {
		t.Fatalf("expected a replacement conversation, current is %q", current)
	}
	replacement, err := repo.Get(context.Background(), 1, current)
	if err != nil {
		t.Fatalf("replacement not persisted: %v", err)
	}
	if !replacement.IsEmpty() {
		t.Fatal("replacement conversation should be empty")
	}
}

func TestClearAllLeavesOneFreshConversation(t *testing.T) {
	repo := newFakeConvRepo()
	repo.add(1, "a", timePtr(time.Now()))
	repo.add(1, "b", timePtr(time.Now()))
	svc := NewConversationService(repo)
	if _, err := svc.Initialize(context.Background(), 1); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	id, err := svc.ClearAll(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected replacement conversation id")
	}

	repo.mu.Lock()
	total := len(repo.conversations)
	repo.mu.Unlock()
	if total != 1 {
		t.Fatalf("expected only the replacement conversation, got %d", total)
	}
	if svc.Current(1) != id {
		t.Fatalf("expected replacement selected, current is %q", svc.Current(1))
	}
}

func TestClearAllWaitsForInFlightCreate(t *testing.T) {
	repo := newFakeConvRepo()
	repo.createBlock = make(chan struct{})
	svc := NewConversationService(repo)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := svc.CreateNewChat(context.Background(), 1); err != nil {
			t.Errorf("create failed: %v", err)
		}
	}()
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	var clearedID string
	var clearErr error
	go func() {
		clearedID, clearErr = svc.ClearAll(context.Background(), 1)
		close(done)
	}()

	// 创建仍在途时清空必须等待，不能与之交错。
	select {
	case <-done:
		t.Fatal("ClearAll must wait for the in-flight create")
	case <-time.After(30 * time.Millisecond):
	}

	close(repo.createBlock)
	wg.Wait()
	<-done
	if clearErr != nil {
		t.Fatalf("unexpected error: %v", clearErr)
	}

	repo.mu.Lock()
	total := len(repo.conversations)
	repo.mu.Unlock()
	if total != 1 {
		t.Fatalf("expected a single empty conversation after clear, got %d", total)
	}
	if svc.Current(1) != clearedID {
		t.Fatalf("expected replacement selected, current is %q", svc.Current(1))
	}
}

func TestClearAllPropagatesCreateFailure(t *testing.T) {
	repo := newFakeConvRepo()
	repo.add(1, "a", timePtr(time.Now()))
	svc := NewConversationService(repo)
	repo.createErr = errors.New("insert failed")

	if _, err := svc.ClearAll(context.Background(), 1); err == nil {
		t.Fatal("expected error when replacement create fails")
	}
}

func TestRefreshKeepsCurrentEmptyConversation(t *testing.T) {
	repo := newFakeConvRepo()
	svc := NewConversationService(repo)
	id, err := svc.CreateNewChat(context.Background(), 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// 空会话不出现在非空列表里，但仍然是合法的当前会话。
	snapshot, err := svc.Refresh(context.Background(), 1)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if snapshot.Current != id {
		t.Fatalf("refresh must not drop a live empty conversation, current is %q", snapshot.Current)
	}
}

func TestRefreshReplacesVanishedCurrent(t *testing.T) {
	repo := newFakeConvRepo()
	gone := repo.add(1, "gone", timePtr(time.Now()))
	stay := repo.add(1, "stay", timePtr(time.Now().Add(-time.Minute)))
	svc := NewConversationService(repo)
	if _, err := svc.Initialize(context.Background(), 1); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if svc.Current(1) != gone.ID {
		t.Fatalf("setup: expected %q current", gone.ID)
	}

	// 模拟会话在别处被删除。
	repo.mu.Lock()
	delete(repo.conversations, gone.ID)
	repo.mu.Unlock()

	snapshot, err := svc.Refresh(context.Background(), 1)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if snapshot.Current != stay.ID {
		t.Fatalf("expected fallback to %q, got %q", stay.ID, snapshot.Current)
	}
}

func TestStatePerUserIsIsolated(t *testing.T) {
	repo := newFakeConvRepo()
	svc := NewConversationService(repo)

	id1, err := svc.CreateNewChat(context.Background(), 1)
	if err != nil {
		t.Fatalf("create user 1: %v", err)
	}
	id2, err := svc.CreateNewChat(context.Background(), 2)
	if err != nil {
		t.Fatalf("create user 2: %v", err)
	}

	if svc.Current(1) != id1 || svc.Current(2) != id2 {
		t.Fatalf("per-user current mixed up: user1=%q user2=%q", svc.Current(1), svc.Current(2))
	}
}
