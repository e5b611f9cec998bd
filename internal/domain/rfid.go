package domain

import (
	"time"
)

type AuthorizationStatus string

const (
	AuthorizationAccepted AuthorizationStatus = "Accepted"
	AuthorizationInvalid  AuthorizationStatus = "Invalid"
	AuthorizationBlocked  AuthorizationStatus = "Blocked"
	AuthorizationExpired  AuthorizationStatus = "Expired"
)

// RFIDCard is an authorization token presented by a driver. The core
// consults cards only for the Authorize handler; CRUD is owned by the
// admin facade.
type RFIDCard struct {
	ID         uint       `json:"id" gorm:"primaryKey"`
	IDTag      string     `json:"id_tag" gorm:"uniqueIndex"`
	UserID     string     `json:"user_id" gorm:"index"`
	Label      string     `json:"label"`
	Active     bool       `json:"active" gorm:"default:true"`
	Blocked    bool       `json:"blocked"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Authorization returns the OCPP idTagInfo status for this card at time now.
func (c *RFIDCard) Authorization(now time.Time) AuthorizationStatus {
	switch {
	case c == nil:
		return AuthorizationInvalid
	case c.Blocked:
		return AuthorizationBlocked
	case !c.Active:
		return AuthorizationInvalid
	case c.ExpiryDate != nil && c.ExpiryDate.Before(now):
		return AuthorizationExpired
	default:
		return AuthorizationAccepted
	}
}
