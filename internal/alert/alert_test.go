package alert

import (
	"context"
	"errors"
	"testing"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rest.Response), args.Error(1)
}

func TestSendGridAlerter_Critical(t *testing.T) {
	ctx := context.Background()
	a := Alert{Kind: KindCompensationFailed, Subject: "saga s1 stuck", Fields: map[string]any{"saga_id": "s1"}}

	t.Run("Success", func(t *testing.T) {
		sender := new(mockSender)
		alerter := &SendGridAlerter{client: sender, from: mail.NewEmail("ops", "ops@example.com"), recipients: []string{"a@example.com", "b@example.com"}}

		sender.On("SendWithContext", ctx, mock.MatchedBy(func(m *mail.SGMailV3) bool {
			return m.Subject == "[CRITICAL] saga s1 stuck" && len(m.Personalizations[0].To) == 2
		})).Return(&rest.Response{StatusCode: 202}, nil)

		require.NoError(t, alerter.Critical(ctx, a))
		sender.AssertExpectations(t)
	})

	t.Run("RejectedByProvider", func(t *testing.T) {
		sender := new(mockSender)
		alerter := &SendGridAlerter{client: sender, from: mail.NewEmail("ops", "ops@example.com"), recipients: []string{"a@example.com"}}
		sender.On("SendWithContext", ctx, mock.Anything).Return(&rest.Response{StatusCode: 401, Body: "unauthorized"}, nil)

		err := alerter.Critical(ctx, a)
		assert.ErrorContains(t, err, "status 401")
	})
}

type failingAlerter struct{ err error }

func (f failingAlerter) Critical(context.Context, Alert) error { return f.err }

func TestMulti_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	m := Multi{LogAlerter{}, failingAlerter{err: boom}}
	err := m.Critical(context.Background(), Alert{Kind: KindLedgerCorruption, Subject: "drift"})
	assert.ErrorIs(t, err, boom)
}

func TestAlertBody_SortedFields(t *testing.T) {
	a := Alert{Subject: "s", Fields: map[string]any{"b": 2, "a": 1}}
	assert.Equal(t, "s\n\na: 1\nb: 2\n", a.body())
}
