package db

import "time"

// User mirrors the users table (§3).
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Tenant mirrors the tenants table (§3).
type Tenant struct {
	ID          string
	OwnerUserID int64
	Status      string
	WorkerID    *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TenantRuntime mirrors the tenant_runtimes table (§3).
type TenantRuntime struct {
	TenantID      string
	DesiredState  string
	ActualState   string
	LastHeartbeat *time.Time
	LastError     *string
}

// TenantSecret mirrors the tenant_secrets table (§3). The plaintext never
// appears here; NonceB64/CiphertextB64 are the Secret Cipher's opaque blob.
type TenantSecret struct {
	TenantID      string
	NonceB64      string
	CiphertextB64 string
	KeyVersion    string
	UpdatedAt     time.Time
}

// ConfigRevision mirrors the config_revisions table (§3/§4.3).
type ConfigRevision struct {
	TenantID  string
	Revision  int32
	Env       map[string]string
	IsActive  bool
	CreatedAt time.Time
}

// PromptRevision mirrors the prompt_revisions table (§3/§4.3).
type PromptRevision struct {
	TenantID  string
	Name      string
	Revision  int32
	Content   string
	IsActive  bool
	CreatedAt time.Time
}

// SkillRevision mirrors the skill_revisions table (§3/§4.3).
type SkillRevision struct {
	TenantID  string
	SkillID   string
	Revision  int32
	Content   string
	IsActive  bool
	CreatedAt time.Time
}

// RuntimeEvent mirrors the runtime_events table (§3/§4.5).
type RuntimeEvent struct {
	ID        int64
	TenantID  string
	Type      string
	Payload   map[string]any
	CreatedAt time.Time
}

// AdminAction mirrors the admin_actions table (§3).
type AdminAction struct {
	ID          int64
	ActorUserID int64
	TenantID    string
	Action      string
	Payload     map[string]any
	CreatedAt   time.Time
}
