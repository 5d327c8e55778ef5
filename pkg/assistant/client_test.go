package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/errs"
)

// fakeThreadAPI 按预设的状态序列模拟远端服务。
type fakeThreadAPI struct {
	statuses      []openai.RunStatus
	statusIndex   int
	reply         string
	createdThread int
	postedMsgs    []string
	createdRuns   int
	listCalls     int
	createRunErr  error
}

func (f *fakeThreadAPI) CreateThread(ctx context.Context, req openai.ThreadRequest) (openai.Thread, error) {
	f.createdThread++
	return openai.Thread{ID: "thread-1"}, nil
}

func (f *fakeThreadAPI) CreateMessage(ctx context.Context, threadID string, req openai.MessageRequest) (openai.Message, error) {
	f.postedMsgs = append(f.postedMsgs, req.Content)
	return openai.Message{ID: "msg-1"}, nil
}

func (f *fakeThreadAPI) CreateRun(ctx context.Context, threadID string, req openai.RunRequest) (openai.Run, error) {
	if f.createRunErr != nil {
		return openai.Run{}, f.createRunErr
	}
	f.createdRuns++
	return openai.Run{ID: "run-1", Status: openai.RunStatusQueued}, nil
}

func (f *fakeThreadAPI) RetrieveRun(ctx context.Context, threadID, runID string) (openai.Run, error) {
	status := f.statuses[f.statusIndex]
	if f.statusIndex < len(f.statuses)-1 {
		f.statusIndex++
	}
	return openai.Run{ID: runID, Status: status}, nil
}

func (f *fakeThreadAPI) ListMessage(ctx context.Context, threadID string, limit *int, order *string, after *string, before *string) (openai.MessagesList, error) {
	f.listCalls++
	value := f.reply
	return openai.MessagesList{Messages: []openai.Message{
		{
			ID:   "msg-2",
			Role: "assistant",
			Content: []openai.MessageContent{
				{Type: "text", Text: &openai.MessageText{Value: value}},
			},
		},
	}}, nil
}

func newTestClient(api threadAPI) *client {
	return &client{api: api, assistantID: "asst_test", pollInterval: time.Millisecond}
}

func TestGenerateReplyCompletes(t *testing.T) {
	fake := &fakeThreadAPI{
		statuses: []openai.RunStatus{openai.RunStatusQueued, openai.RunStatusInProgress, openai.RunStatusCompleted},
		reply:    "per section 12.A you are entitled to premium pay",
	}
	c := newTestClient(fake)

	reply, threadID, err := c.GenerateReply(context.Background(), "", "what is premium pay?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != fake.reply {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if threadID != "thread-1" {
		t.Fatalf("expected thread-1, got %q", threadID)
	}
	if fake.listCalls != 1 {
		t.Fatalf("expected reply fetched exactly once, got %d", fake.listCalls)
	}
	if fake.createdRuns != 1 {
		t.Fatalf("expected exactly one run, got %d", fake.createdRuns)
	}
}

func TestGenerateReplyReusesExistingThread(t *testing.T) {
	fake := &fakeThreadAPI{statuses: []openai.RunStatus{openai.RunStatusCompleted}, reply: "ok"}
	c := newTestClient(fake)

	_, threadID, err := c.GenerateReply(context.Background(), "thread-preexisting", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.createdThread != 0 {
		t.Fatalf("expected no thread creation, got %d", fake.createdThread)
	}
	if threadID != "thread-preexisting" {
		t.Fatalf("expected original thread id, got %q", threadID)
	}
}

func TestGenerateReplyFailedRunRaisesProtocolError(t *testing.T) {
	fake := &fakeThreadAPI{statuses: []openai.RunStatus{openai.RunStatusQueued, openai.RunStatusFailed}}
	c := newTestClient(fake)

	_, _, err := c.GenerateReply(context.Background(), "", "hello")
	if !errs.IsProtocol(err) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if fake.listCalls != 0 {
		t.Fatal("reply must not be fetched after a failed run")
	}
}

func TestGenerateReplyRequiresActionRaisesProtocolError(t *testing.T) {
	fake := &fakeThreadAPI{statuses: []openai.RunStatus{openai.RunStatusRequiresAction}}
	c := newTestClient(fake)

	_, _, err := c.GenerateReply(context.Background(), "", "hello")
	if !errs.IsProtocol(err) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}

func TestGenerateReplyPrefixesFormatInstructions(t *testing.T) {
	fake := &fakeThreadAPI{statuses: []openai.RunStatus{openai.RunStatusCompleted}, reply: "ok"}
	c := newTestClient(fake)

	if _, _, err := c.GenerateReply(context.Background(), "", "show me the pay scale"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.postedMsgs) != 1 {
		t.Fatalf("expected one posted message, got %d", len(fake.postedMsgs))
	}
	posted := fake.postedMsgs[0]
	if posted == "show me the pay scale" {
		t.Fatal("expected format instructions to be prepended")
	}
	if want := "User Question: show me the pay scale"; !strings.Contains(posted, want) {
		t.Fatalf("posted message missing %q", want)
	}
}

func TestGenerateReplyPropagatesTransportError(t *testing.T) {
	wantErr := errors.New("connection refused")
	fake := &fakeThreadAPI{statuses: []openai.RunStatus{openai.RunStatusCompleted}, createRunErr: wantErr}
	c := newTestClient(fake)

	_, _, err := c.GenerateReply(context.Background(), "thread-1", "hello")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected transport error to propagate, got %v", err)
	}
}

func TestGenerateReplyHonoursContextDeadline(t *testing.T) {
	fake := &fakeThreadAPI{statuses: []openai.RunStatus{openai.RunStatusQueued}}
	c := newTestClient(fake)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, err := c.GenerateReply(ctx, "thread-1", "hello")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}
