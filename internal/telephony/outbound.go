package telephony

import (
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Caller triggers outbound calls through the Twilio REST API. The voice
// webhook it points at answers with the media-stream TwiML, so an outbound
// call lands in the same bridge as an inbound one.
type Caller struct {
	client *twilio.RestClient
	from   string
}

// NewCaller builds a REST client from account credentials.
func NewCaller(accountSID, authToken, fromNumber string) *Caller {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Caller{client: client, from: fromNumber}
}

// StartCall places a call to the number and returns the new call SID.
func (c *Caller) StartCall(toNumber, voiceURL string) (string, error) {
	if c.from == "" {
		return "", fmt.Errorf("missing TWILIO_FROM_NUMBER: cannot place outbound calls")
	}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(toNumber)
	params.SetFrom(c.from)
	params.SetUrl(voiceURL)

	resp, err := c.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("failed to create call: %w", err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("create call response missing sid")
	}
	return *resp.Sid, nil
}
