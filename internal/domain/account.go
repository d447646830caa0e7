package domain

import "time"

// Account is a DNSPod API key pair owned by one user application.
type Account struct {
	ID        int64
	Name      string
	SecretID  string
	SecretKey string
	CreatedAt time.Time
}

func (a Account) Credentials() Credentials {
	return Credentials{SecretID: a.SecretID, SecretKey: a.SecretKey}
}

// Credentials are held only for the lifetime of one reconciliation session.
type Credentials struct {
	SecretID  string
	SecretKey string
}

// String never renders the secret key.
func (c Credentials) String() string {
	return "Credentials{SecretID:" + c.SecretID + "}"
}
