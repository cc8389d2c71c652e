// Audit logging for the mediator's own lifecycle: target attach/detach,
// context navigation, realm creation, and command dispatch. Kept in its own
// file (distinct from the per-category text logs in logger.go) since audit
// records are line-delimited JSON meant for offline analysis rather than
// human reading.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType identifies the kind of lifecycle event recorded.
type AuditEventType string

const (
	AuditTargetAttach AuditEventType = "target_attach"
	AuditTargetReady  AuditEventType = "target_ready"
	AuditTargetFail   AuditEventType = "target_fail"
	AuditTargetDetach AuditEventType = "target_detach"

	AuditContextCreate   AuditEventType = "context_create"
	AuditContextNavigate AuditEventType = "context_navigate"
	AuditContextLoaded   AuditEventType = "context_loaded"
	AuditContextDestroy  AuditEventType = "context_destroy"

	AuditRealmCreate  AuditEventType = "realm_create"
	AuditRealmDestroy AuditEventType = "realm_destroy"

	AuditCommandReceive  AuditEventType = "command_receive"
	AuditCommandComplete AuditEventType = "command_complete"
	AuditCommandError    AuditEventType = "command_error"

	AuditSubscribe   AuditEventType = "subscribe"
	AuditUnsubscribe AuditEventType = "unsubscribe"

	AuditPreloadInstall AuditEventType = "preload_install"
	AuditPreloadRemove  AuditEventType = "preload_remove"
)

// AuditEvent is one structured audit log line.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"`
	EventType  AuditEventType         `json:"event"`
	SessionID  string                 `json:"session,omitempty"`
	ContextID  string                 `json:"context,omitempty"`
	TargetID   string                 `json:"target,omitempty"`
	RealmID    string                 `json:"realm,omitempty"`
	Method     string                 `json:"method,omitempty"`
	CommandID  uint64                 `json:"cmd_id,omitempty"`
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Message    string                 `json:"msg,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile *os.File
	auditMu   sync.Mutex
)

// InitAudit opens today's audit log file under logsDir, a no-op when
// debug mode is disabled.
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		return nil
	}
	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))
	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	return nil
}

// CloseAudit closes the audit log file.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// AuditLogger is a scoped handle for writing related audit events without
// repeating the session/context ids on every call.
type AuditLogger struct {
	sessionID string
	contextID string
}

// AuditWithSession scopes audit events to a CDP session.
func AuditWithSession(sessionID string) *AuditLogger {
	return &AuditLogger{sessionID: sessionID}
}

// AuditWithContext scopes audit events to a browsing context.
func AuditWithContext(contextID string) *AuditLogger {
	return &AuditLogger{contextID: contextID}
}

// Log writes one audit event, filling in the logger's scoped ids and the
// timestamp when absent.
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsDebugMode() || auditFile == nil {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if a != nil {
		if event.SessionID == "" {
			event.SessionID = a.sessionID
		}
		if event.ContextID == "" {
			event.ContextID = a.contextID
		}
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// global is the unscoped audit logger used by call sites with no natural
// session/context scope (e.g. top-level command dispatch).
var global = &AuditLogger{}

// TargetAttach records a CdpTarget attach.
func TargetAttach(targetID, sessionID string) {
	AuditWithSession(sessionID).Log(AuditEvent{EventType: AuditTargetAttach, TargetID: targetID, Success: true})
}

// TargetReady records a CdpTarget completing bring-up.
func TargetReady(targetID string, durationMs int64) {
	global.Log(AuditEvent{EventType: AuditTargetReady, TargetID: targetID, Success: true, DurationMs: durationMs})
}

// TargetFail records a CdpTarget failing bring-up.
func TargetFail(targetID string, err error) {
	global.Log(AuditEvent{EventType: AuditTargetFail, TargetID: targetID, Success: false, Error: errString(err)})
}

// TargetDetach records a CdpTarget detach.
func TargetDetach(targetID, sessionID string) {
	AuditWithSession(sessionID).Log(AuditEvent{EventType: AuditTargetDetach, TargetID: targetID, Success: true})
}

// ContextNavigate records a browsingContext.navigate command taking effect.
func ContextNavigate(contextID, url, loaderID string) {
	AuditWithContext(contextID).Log(AuditEvent{
		EventType: AuditContextNavigate,
		Success:   true,
		Fields:    map[string]interface{}{"url": url, "loader_id": loaderID},
	})
}

// ContextLoaded records a context reaching the Complete navigation state.
func ContextLoaded(contextID, loaderID string, durationMs int64) {
	AuditWithContext(contextID).Log(AuditEvent{EventType: AuditContextLoaded, Success: true, DurationMs: durationMs, Fields: map[string]interface{}{"loader_id": loaderID}})
}

// ContextDestroy records a browsing context being torn down.
func ContextDestroy(contextID string) {
	AuditWithContext(contextID).Log(AuditEvent{EventType: AuditContextDestroy, Success: true})
}

// RealmCreate records a realm materializing for an execution context.
func RealmCreate(realmID, contextID, sandbox string) {
	AuditWithContext(contextID).Log(AuditEvent{EventType: AuditRealmCreate, RealmID: realmID, Success: true, Fields: map[string]interface{}{"sandbox": sandbox}})
}

// RealmDestroy records a realm being torn down.
func RealmDestroy(realmID string) {
	global.Log(AuditEvent{EventType: AuditRealmDestroy, RealmID: realmID, Success: true})
}

// CommandReceive records an incoming BiDi command before dispatch.
func CommandReceive(cmdID uint64, method string) {
	global.Log(AuditEvent{EventType: AuditCommandReceive, CommandID: cmdID, Method: method, Success: true})
}

// CommandComplete records a successfully dispatched BiDi command.
func CommandComplete(cmdID uint64, method string, durationMs int64) {
	global.Log(AuditEvent{EventType: AuditCommandComplete, CommandID: cmdID, Method: method, Success: true, DurationMs: durationMs})
}

// LogCommandError records a BiDi command that failed.
func LogCommandError(cmdID uint64, method string, err error) {
	global.Log(AuditEvent{EventType: AuditCommandError, CommandID: cmdID, Method: method, Success: false, Error: errString(err)})
}

// Subscribe records a session.subscribe command.
func Subscribe(events, contexts []string, channel string) {
	global.Log(AuditEvent{EventType: AuditSubscribe, Success: true, Fields: map[string]interface{}{"events": events, "contexts": contexts, "channel": channel}})
}

// Unsubscribe records a session.unsubscribe command.
func Unsubscribe(events, contexts []string, channel string) {
	global.Log(AuditEvent{EventType: AuditUnsubscribe, Success: true, Fields: map[string]interface{}{"events": events, "contexts": contexts, "channel": channel}})
}

// PreloadInstall records a preload script being installed on a target.
func PreloadInstall(scriptID, targetID, cdpScriptID string) {
	global.Log(AuditEvent{EventType: AuditPreloadInstall, TargetID: targetID, Success: true, Fields: map[string]interface{}{"script": scriptID, "cdp_script": cdpScriptID}})
}

// PreloadRemove records a preload script being removed.
func PreloadRemove(scriptID string) {
	global.Log(AuditEvent{EventType: AuditPreloadRemove, Success: true, Fields: map[string]interface{}{"script": scriptID}})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
