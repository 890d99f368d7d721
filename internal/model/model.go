// Package model defines domain entities used by services and repositories.
package model

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
)

// VaultRecord is the singleton master-password verifier. It never holds the working key.
type VaultRecord struct {
	PasswordHash []byte // PBKDF2-SHA512(password, Salt), verification only
	Salt         []byte
	Iterations   int
	CreatedAt    time.Time
}

// VaultStatus is the caller-facing vault state.
type VaultStatus struct {
	Initialized bool `json:"initialized"`
	Unlocked    bool `json:"unlocked"`
}

// SyncStatus is the lifecycle state of a sync log entry.
type SyncStatus string

const (
	SyncRunning SyncStatus = "running"
	SyncSuccess SyncStatus = "success"
	SyncFailed  SyncStatus = "failed"
)

// Terminal reports whether the status closes a sync attempt.
func (s SyncStatus) Terminal() bool { return s == SyncSuccess || s == SyncFailed }

// Schedule is how often a credential is synced automatically.
type Schedule string

const (
	ScheduleManual  Schedule = "manual"
	ScheduleDaily   Schedule = "daily"
	ScheduleWeekly  Schedule = "weekly"
	ScheduleMonthly Schedule = "monthly"
)

// Valid reports whether s is a known schedule.
func (s Schedule) Valid() bool {
	switch s {
	case ScheduleManual, ScheduleDaily, ScheduleWeekly, ScheduleMonthly:
		return true
	}
	return false
}

// Defaults applied to new credentials.
const (
	DefaultMFAMethod      = "none"
	DefaultSyncSchedule   = ScheduleManual
	DefaultSyncTime       = "02:00"
	DefaultSyncDayOfWeek  = 1
	DefaultSyncDayOfMonth = 1
)

// SyncSettings groups the scheduling columns of a credential.
type SyncSettings struct {
	SyncSchedule   Schedule `json:"sync_schedule"`
	SyncTime       string   `json:"sync_time"`
	SyncDayOfWeek  int      `json:"sync_day_of_week"`
	SyncDayOfMonth int      `json:"sync_day_of_month"`
	AutoSyncOnOpen bool     `json:"auto_sync_on_open"`
	NotifyOnSync   bool     `json:"notify_on_sync"`
}

// PortalCredential is the persisted row; secret columns hold field ciphertext only.
type PortalCredential struct {
	ID                  uuid.UUID
	ServiceName         string
	PortalType          string
	BaseURL             string
	UsernameEncrypted   string
	PasswordEncrypted   string
	MFAMethod           string
	TOTPSecretEncrypted *string
	NotesEncrypted      *string
	LastSync            *time.Time
	LastSyncStatus      *SyncStatus
	SyncSettings
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CredentialSummary is the list view; it never carries secret fields.
type CredentialSummary struct {
	ID             uuid.UUID   `json:"id"`
	ServiceName    string      `json:"service_name"`
	PortalType     string      `json:"portal_type"`
	BaseURL        string      `json:"base_url"`
	MFAMethod      string      `json:"mfa_method"`
	LastSync       *time.Time  `json:"last_sync,omitempty"`
	LastSyncStatus *SyncStatus `json:"last_sync_status,omitempty"`
	SyncSettings
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DecryptedCredential is a credential with plaintext secrets, alive only while the vault is unlocked.
type DecryptedCredential struct {
	ID             uuid.UUID   `json:"id"`
	ServiceName    string      `json:"service_name"`
	PortalType     string      `json:"portal_type"`
	BaseURL        string      `json:"base_url"`
	Username       string      `json:"username"`
	Password       string      `json:"password"`
	MFAMethod      string      `json:"mfa_method"`
	TOTPSecret     *string     `json:"totp_secret,omitempty"`
	Notes          *string     `json:"notes,omitempty"`
	LastSync       *time.Time  `json:"last_sync,omitempty"`
	LastSyncStatus *SyncStatus `json:"last_sync_status,omitempty"`
	SyncSettings
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// String keeps secrets out of logs and fmt output.
func (c DecryptedCredential) String() string {
	return fmt.Sprintf("credential{id=%s service=%q type=%s}", c.ID, c.ServiceName, c.PortalType)
}

// CredentialInput is the plaintext payload for creating a credential.
type CredentialInput struct {
	ServiceName    string   `json:"service_name"`
	PortalType     string   `json:"portal_type"`
	BaseURL        string   `json:"base_url"`
	Username       string   `json:"username"`
	Password       string   `json:"password"`
	MFAMethod      string   `json:"mfa_method"`
	TOTPSecret     *string  `json:"totp_secret"`
	Notes          *string  `json:"notes"`
	SyncSchedule   Schedule `json:"sync_schedule"`
	SyncTime       string   `json:"sync_time"`
	SyncDayOfWeek  *int     `json:"sync_day_of_week"`
	SyncDayOfMonth *int     `json:"sync_day_of_month"`
	AutoSyncOnOpen *bool    `json:"auto_sync_on_open"`
	NotifyOnSync   *bool    `json:"notify_on_sync"`
}

// CredentialPatch is a partial update; nil fields are left untouched.
type CredentialPatch struct {
	ServiceName    *string   `json:"service_name"`
	PortalType     *string   `json:"portal_type"`
	BaseURL        *string   `json:"base_url"`
	Username       *string   `json:"username"`
	Password       *string   `json:"password"`
	MFAMethod      *string   `json:"mfa_method"`
	TOTPSecret     *string   `json:"totp_secret"`
	Notes          *string   `json:"notes"`
	SyncSchedule   *Schedule `json:"sync_schedule"`
	SyncTime       *string   `json:"sync_time"`
	SyncDayOfWeek  *int      `json:"sync_day_of_week"`
	SyncDayOfMonth *int      `json:"sync_day_of_month"`
	AutoSyncOnOpen *bool     `json:"auto_sync_on_open"`
	NotifyOnSync   *bool     `json:"notify_on_sync"`
}

// Empty reports whether the patch changes nothing.
func (p CredentialPatch) Empty() bool {
	return p.ServiceName == nil && p.PortalType == nil && p.BaseURL == nil &&
		p.Username == nil && p.Password == nil && p.MFAMethod == nil &&
		p.TOTPSecret == nil && p.Notes == nil && p.SyncSchedule == nil &&
		p.SyncTime == nil && p.SyncDayOfWeek == nil && p.SyncDayOfMonth == nil &&
		p.AutoSyncOnOpen == nil && p.NotifyOnSync == nil
}

// ColumnUpdate is one already-encrypted column assignment produced from a patch.
type ColumnUpdate struct {
	Column string
	Value  any
}

// SyncLogEntry brackets one sync attempt from start to terminal outcome.
type SyncLogEntry struct {
	ID              uuid.UUID  `json:"id"`
	CredentialID    uuid.UUID  `json:"credential_id"`
	SyncStarted     time.Time  `json:"sync_started"`
	SyncCompleted   *time.Time `json:"sync_completed,omitempty"`
	Status          SyncStatus `json:"status"`
	RecordsImported int        `json:"records_imported"`
	ErrorMessage    *string    `json:"error_message,omitempty"`

	// Joined from portal_credentials in cross-credential history.
	ServiceName string `json:"service_name,omitempty"`
	PortalType  string `json:"portal_type,omitempty"`
}

// SummaryStatus is the connector-level outcome of a sync attempt.
type SummaryStatus string

const (
	StatusSuccess        SummaryStatus = "Success"
	StatusPartialSuccess SummaryStatus = "Partial Success"
	StatusFailed         SummaryStatus = "Failed"
	StatusMFARequired    SummaryStatus = "MFA Required"
	StatusNotImplemented SummaryStatus = "Connector not yet implemented"
)

// SyncSummary describes what a connector did.
type SyncSummary struct {
	Connector   string         `json:"connector"`
	Status      SummaryStatus  `json:"status"`
	Message     string         `json:"message"`
	Details     map[string]int `json:"details"`
	Errors      []string       `json:"errors,omitempty"`
	Remediation []string       `json:"remediation,omitempty"`
}

// SyncResult is what a connector returns for a completed attempt.
type SyncResult struct {
	RecordsImported int         `json:"records_imported"`
	Summary         SyncSummary `json:"summary"`
}

// SyncOutcome is the caller-facing result of an orchestrated sync.
type SyncOutcome struct {
	SyncLogID       uuid.UUID   `json:"sync_log_id"`
	RecordsImported int         `json:"records_imported"`
	Summary         SyncSummary `json:"summary"`
}
