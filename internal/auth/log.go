package auth

import "labkeeper.org/internal/obs"

// LogResult writes the side effects of res as structured log lines.
// Callers that surface Authenticate to users invoke it after a success.
func LogResult(requestID string, res Result) {
	if res.Migration.Failed() {
		obs.Log("warn", "password migration failed", map[string]any{
			"request_id": requestID,
			"account_id": res.Account.ID,
			"format":     string(res.Format),
			"error":      res.Migration.Err.Error(),
		})
	}
	if res.LastLogin.Failed() {
		obs.Log("warn", "last login update failed", map[string]any{
			"request_id": requestID,
			"account_id": res.Account.ID,
			"error":      res.LastLogin.Err.Error(),
		})
	}
	if res.Migrated() {
		obs.Log("info", "password migrated", map[string]any{
			"request_id": requestID,
			"account_id": res.Account.ID,
			"from":       string(res.Format),
		})
	}
}
