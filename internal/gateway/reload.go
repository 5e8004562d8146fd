package gateway

import (
	"log/slog"

	"github.com/nextlevelbuilder/gatewaycore/internal/configstore"
)

// ApplyConfigChange diffs prev against next and reacts: hot-reloadable
// changes are applied in place (connections keep running, a health event
// announces the refresh) while restart-required changes are left for the
// caller's restart scheduler — this only announces the pending restart so
// connected clients can show a status banner before the process exits.
func (s *Server) ApplyConfigChange(prev, next *configstore.Config) error {
	changed, err := configstore.DiffPaths(prev, next)
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		return nil
	}

	hot, restartNeeded := configstore.ClassifyReload(next.Gateway.ReloadMode, changed)
	slog.Info("gateway: config changed", "paths", changed, "hot", hot, "restart", restartNeeded)

	if hot {
		s.mu.Lock()
		s.maxMessageCharsVal = next.Gateway.MaxMessageChars
		s.allowedOrigins = next.Gateway.AllowedOrigins
		s.token = next.Gateway.Token
		s.mu.Unlock()
		s.Broadcast("health", map[string]interface{}{"reloaded": true, "paths": changed})
	}
	if restartNeeded {
		s.Broadcast("shutdown", map[string]interface{}{"reason": "restart_required", "paths": changed})
	}
	return nil
}
