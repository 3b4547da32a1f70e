package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESAPI is the subset of the SES client the mailer needs.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// Mailer sends plain-text notification emails through SES.
type Mailer struct {
	client    SESAPI
	fromEmail string
}

func NewSESMailer(ctx context.Context, region, fromEmail string) (*Mailer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewMailer(ses.NewFromConfig(cfg), fromEmail), nil
}

func NewMailer(client SESAPI, fromEmail string) *Mailer {
	return &Mailer{client: client, fromEmail: fromEmail}
}

// SendEmail returns the SES message ID.
func (m *Mailer) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	if to == "" {
		return "", fmt.Errorf("recipient email is empty")
	}

	out, err := m.client.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(m.fromEmail),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
			},
		},
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}
