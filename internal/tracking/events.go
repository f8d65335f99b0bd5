package tracking

import (
	"fmt"
	"time"

	"github.com/Veraticus/pinflow/internal/model"
)

// Event type names on the wire.
const (
	TypeImpression    = "impression"
	TypeInvalidNumber = "invalid_msisdn"
	TypeValidNumber   = "valid_msisdn"
	TypePinSent       = "pin_sent"
	TypePinSubmitted  = "pin_submitted"
	TypeValidPin      = "valid_pin"
	TypeInvalidPin    = "invalid_pin"
	TypeSale          = "sale"
	TypeFailedSale    = "failed_sale"
)

// Event is one funnel milestone. The set is closed; see encodeEvent.
type Event interface {
	isEvent()
}

// Impression is emitted once when a funnel session starts.
type Impression struct{}

// InvalidNumber is emitted when a number fails local validation or the OTP send.
// Reason is a validation key or the gateway error code.
type InvalidNumber struct {
	MSISDN string
	Reason string
}

// ValidNumber is emitted when the gateway accepted the number.
type ValidNumber struct {
	MSISDN string
}

// PinSent is emitted when an OTP was sent, including resends.
type PinSent struct {
	MSISDN string
}

// PinSubmitted is emitted before a PIN is verified.
type PinSubmitted struct {
	MSISDN string
	PIN    string
}

// ValidPin is emitted when the gateway confirmed the subscription.
type ValidPin struct {
	MSISDN string
	PIN    string
}

// InvalidPin is emitted when PIN verification failed. Reason is the gateway code.
type InvalidPin struct {
	MSISDN string
	PIN    string
	Reason string
}

// Sale is emitted after a confirmed subscription.
type Sale struct {
	MSISDN string
}

// FailedSale is emitted when the gateway refused the subscription itself.
type FailedSale struct {
	MSISDN string
	Reason string
}

func (Impression) isEvent()    {}
func (InvalidNumber) isEvent() {}
func (ValidNumber) isEvent()   {}
func (PinSent) isEvent()       {}
func (PinSubmitted) isEvent()  {}
func (ValidPin) isEvent()      {}
func (InvalidPin) isEvent()    {}
func (Sale) isEvent()          {}
func (FailedSale) isEvent()    {}

// EventPayload is the body of an event request.
type EventPayload struct {
	SUID        string `json:"suid"`
	EventType   string `json:"event_type"`
	CID         string `json:"cid,omitempty"`
	ServiceID   string `json:"service_id,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	MSISDN      string `json:"msisdn,omitempty"`
	PIN         string `json:"pin,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// encodeEvent builds the wire payload. Adding an Event type without a case here is an error.
func encodeEvent(suid string, campaign *model.Campaign, cid string, ev Event, at time.Time) (*EventPayload, error) {
	p := &EventPayload{
		SUID:      suid,
		CID:       cid,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	}
	if campaign != nil {
		if campaign.CID != "" {
			p.CID = campaign.CID
		}
		p.ServiceID = campaign.ServiceID.String()
		p.ServiceName = campaign.ServiceName
	}

	switch e := ev.(type) {
	case Impression:
		p.EventType = TypeImpression
	case InvalidNumber:
		p.EventType = TypeInvalidNumber
		p.MSISDN, p.Reason = e.MSISDN, e.Reason
	case ValidNumber:
		p.EventType = TypeValidNumber
		p.MSISDN = e.MSISDN
	case PinSent:
		p.EventType = TypePinSent
		p.MSISDN = e.MSISDN
	case PinSubmitted:
		p.EventType = TypePinSubmitted
		p.MSISDN, p.PIN = e.MSISDN, e.PIN
	case ValidPin:
		p.EventType = TypeValidPin
		p.MSISDN, p.PIN = e.MSISDN, e.PIN
	case InvalidPin:
		p.EventType = TypeInvalidPin
		p.MSISDN, p.PIN, p.Reason = e.MSISDN, e.PIN, e.Reason
	case Sale:
		p.EventType = TypeSale
		p.MSISDN = e.MSISDN
	case FailedSale:
		p.EventType = TypeFailedSale
		p.MSISDN, p.Reason = e.MSISDN, e.Reason
	default:
		return nil, fmt.Errorf("unknown event type %T", ev)
	}
	return p, nil
}
