// Package sns models the push notification envelope and verifies its
// signature against the dynamically fetched signing certificate.
package sns

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Envelope types this receiver distinguishes.
const (
	TypeSubscriptionConfirmation = "SubscriptionConfirmation"
	TypeNotification             = "Notification"
)

// Envelope is one signed SNS push payload, valid for one HTTP request.
type Envelope struct {
	Type             string `json:"Type"`
	MessageID        string `json:"MessageId"`
	Token            string `json:"Token,omitempty"`
	TopicARN         string `json:"TopicArn"`
	Subject          string `json:"Subject,omitempty"`
	Message          string `json:"Message"`
	Timestamp        string `json:"Timestamp"`
	SignatureVersion string `json:"SignatureVersion"`
	Signature        string `json:"Signature"`
	SigningCertURL   string `json:"SigningCertURL"`
	SubscribeURL     string `json:"SubscribeURL,omitempty"`
	UnsubscribeURL   string `json:"UnsubscribeURL,omitempty"`
}

// CanonicalString reconstructs the exact byte string SNS signed. Field
// order is fixed and load-bearing: a subscription confirmation signs seven
// named fields, every other type signs six, with Subject included only
// when present. Get the order wrong and every signature fails.
func (e *Envelope) CanonicalString() string {
	if e.Type == TypeSubscriptionConfirmation {
		return "Message\n" + e.Message + "\n" +
			"MessageId\n" + e.MessageID + "\n" +
			"SubscribeURL\n" + e.SubscribeURL + "\n" +
			"Timestamp\n" + e.Timestamp + "\n" +
			"Token\n" + e.Token + "\n" +
			"TopicArn\n" + e.TopicARN + "\n" +
			"Type\n" + e.Type + "\n"
	}

	s := "Message\n" + e.Message + "\n" +
		"MessageId\n" + e.MessageID + "\n"
	if e.Subject != "" {
		s += "Subject\n" + e.Subject + "\n"
	}
	return s +
		"Timestamp\n" + e.Timestamp + "\n" +
		"TopicArn\n" + e.TopicARN + "\n" +
		"Type\n" + e.Type + "\n"
}

// StateChange is the alarm state transition carried inside a notification
// envelope's Message field.
type StateChange struct {
	AlarmName        string  `json:"AlarmName"`
	AlarmDescription *string `json:"AlarmDescription"`
	AWSAccountID     string  `json:"AWSAccountId"`
	NewStateValue    string  `json:"NewStateValue"`
	NewStateReason   string  `json:"NewStateReason"`
	StateChangeTime  string  `json:"StateChangeTime"`
	Region           string  `json:"Region"`
	OldStateValue    string  `json:"OldStateValue"`
	Trigger          Trigger `json:"Trigger"`
}

// Trigger identifies the metric whose threshold crossing fired the alarm.
type Trigger struct {
	MetricName        string      `json:"MetricName"`
	Namespace         string      `json:"Namespace"`
	Statistic         string      `json:"Statistic"`
	Unit              *string     `json:"Unit"`
	Dimensions        []Dimension `json:"Dimensions"`
	Period            int         `json:"Period"`
	EvaluationPeriods int         `json:"EvaluationPeriods"`
	Threshold         float64     `json:"Threshold"`
}

// Dimension names are lower-cased in the SNS-delivered alarm JSON, unlike
// the DescribeAlarms API.
type Dimension struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// DecodeStateChange parses the nested message body of a data notification.
func DecodeStateChange(message string) (*StateChange, error) {
	var sc StateChange
	if err := json.Unmarshal([]byte(message), &sc); err != nil {
		return nil, errors.Wrap(err, "decoding alarm state change")
	}
	return &sc, nil
}
