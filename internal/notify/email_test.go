package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/rehab-clinic-platform/pkg/logging"
)

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{FromEmail: "front@clinic.test"}, nil)
	if sender != nil {
		t.Error("expected nil sender when API key is empty")
	}
}

func TestNewSendGridSender_DefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{APIKey: "test-key", FromEmail: "front@clinic.test"}, nil)
	require.NotNil(t, sender)
	assert.Equal(t, defaultFromName, sender.fromName)
}

type fakeSendGrid struct {
	status int
	err    error
	sent   []*mail.SGMailV3
}

func (f *fakeSendGrid) SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	f.sent = append(f.sent, email)
	if f.err != nil {
		return nil, f.err
	}
	return &rest.Response{StatusCode: f.status}, nil
}

func TestSendGridSender_Send(t *testing.T) {
	fake := &fakeSendGrid{status: 202}
	sender := &SendGridSender{client: fake, fromEmail: "front@clinic.test", fromName: "Front Desk", logger: logging.Default()}

	err := sender.Send(context.Background(), EmailMessage{To: "pt@clinic.test", Subject: "Low sessions", Body: "2 left"})
	require.NoError(t, err)
	require.Len(t, fake.sent, 1)
	assert.Equal(t, "Low sessions", fake.sent[0].Subject)
	assert.Equal(t, "front@clinic.test", fake.sent[0].From.Address)

	fake.status = 500
	assert.Error(t, sender.Send(context.Background(), EmailMessage{To: "pt@clinic.test"}))

	fake.err = errors.New("network")
	assert.Error(t, sender.Send(context.Background(), EmailMessage{To: "pt@clinic.test"}))
}

func TestSendGridSender_Send_NilClient(t *testing.T) {
	var sender *SendGridSender
	assert.Error(t, sender.Send(context.Background(), EmailMessage{To: "x@clinic.test"}))
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESSender_Send(t *testing.T) {
	fake := &fakeSES{}
	sender := NewSESSender(fake, SESConfig{FromEmail: "alerts@clinic.test"}, nil)
	require.NotNil(t, sender)

	err := sender.Send(context.Background(), EmailMessage{To: "staff@clinic.test", Subject: "Expired", Body: "lapsed", HTML: "<p>lapsed</p>"})
	require.NoError(t, err)
	assert.Equal(t, "Rehab Clinic <alerts@clinic.test>", aws.ToString(fake.input.FromEmailAddress))
	assert.Equal(t, []string{"staff@clinic.test"}, fake.input.Destination.ToAddresses)
	assert.Equal(t, "lapsed", aws.ToString(fake.input.Content.Simple.Body.Text.Data))
	assert.Equal(t, "<p>lapsed</p>", aws.ToString(fake.input.Content.Simple.Body.Html.Data))

	fake.err = errors.New("throttled")
	assert.Error(t, sender.Send(context.Background(), EmailMessage{To: "staff@clinic.test"}))
}

func TestNewSESSender_NilWithoutClient(t *testing.T) {
	assert.Nil(t, NewSESSender(nil, SESConfig{}, nil))
}

func TestStubEmailSender_Send(t *testing.T) {
	assert.NoError(t, NewStubEmailSender(nil).Send(context.Background(), EmailMessage{To: "a@b.test", Subject: "s"}))
}
