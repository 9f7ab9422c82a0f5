package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	telebot "gopkg.in/telebot.v3"

	apperrors "github.com/Proton-105/himera-billing/internal/errors"
	"github.com/Proton-105/himera-billing/internal/i18n"
	"github.com/Proton-105/himera-billing/internal/jobs"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error) {
	args := m.Called(to.Recipient(), what)
	msg, _ := args.Get(0).(*telebot.Message)
	return msg, args.Error(1)
}

type mockManager struct {
	mock.Mock
}

func (m *mockManager) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(task.Type(), string(task.Payload()))
	info, _ := args.Get(0).(*asynq.TaskInfo)
	return info, args.Error(1)
}

func (m *mockManager) Close() error {
	return nil
}

func loadCatalog(t *testing.T) *i18n.Manager {
	t.Helper()

	dir := t.TempDir()
	content := "es:\n  activation:\n    confirmed: \"Plan {plan} activo\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "es.yaml"), []byte(content), 0o600))

	manager, err := i18n.LoadFromDir(dir, "es")
	require.NoError(t, err)
	return manager
}

func TestTelegramNotifierRendersAndSends(t *testing.T) {
	sender := new(mockSender)
	sender.On("Send", "42", "Plan tier1 activo").Return(&telebot.Message{}, nil).Once()

	n := NewTelegramNotifier(sender, loadCatalog(t), "es", testLogger())
	err := n.Notify(context.Background(), Message{
		UserID: 42,
		Key:    KeyActivationConfirmed,
		Params: map[string]string{"plan": "tier1"},
	})

	require.NoError(t, err)
	sender.AssertExpectations(t)
}

func TestTelegramNotifierWrapsTransportErrors(t *testing.T) {
	sender := new(mockSender)
	sender.On("Send", "42", mock.Anything).Return(nil, errors.New("bot was blocked by the user")).Once()

	n := NewTelegramNotifier(sender, loadCatalog(t), "es", testLogger())
	err := n.Notify(context.Background(), Message{UserID: 42, Key: KeyActivationConfirmed})

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeExternalAPI, appErr.Code)
}

func TestQueueNotifierEnqueuesPayload(t *testing.T) {
	manager := new(mockManager)

	expected, err := json.Marshal(jobs.NotifyPayload{UserID: 7, Key: PromoKey("ten_min")})
	require.NoError(t, err)

	manager.On("Enqueue", jobs.TaskTypeNotifySend, string(expected)).Return(&asynq.TaskInfo{ID: "t1"}, nil).Once()

	n := NewQueueNotifier(manager)
	require.NoError(t, n.Notify(context.Background(), Message{UserID: 7, Key: PromoKey("ten_min")}))
	manager.AssertExpectations(t)
}

func TestQueueNotifierPropagatesEnqueueFailure(t *testing.T) {
	manager := new(mockManager)
	manager.On("Enqueue", jobs.TaskTypeNotifySend, mock.Anything).Return(nil, errors.New("redis down")).Once()

	n := NewQueueNotifier(manager)
	assert.Error(t, n.Notify(context.Background(), Message{UserID: 7, Key: KeyReferralRewarded}))
}

func TestLogNotifierNeverFails(t *testing.T) {
	assert.NoError(t, NewLogNotifier(testLogger()).Notify(context.Background(), Message{UserID: 1, Key: "x"}))
}
