// SPDX-License-Identifier: AGPL-3.0-only
package model

import (
	"encoding/json"

	"github.com/jolks/mcp-relay/internal/logging"
)

// PersistAndLogInvocation saves an invocation record to the journal
// (best-effort) and debug-logs it.
func PersistAndLogInvocation(journal InvocationJournal, rec *InvocationRecord, logger *logging.Logger) {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	if journal != nil {
		if err := journal.SaveInvocation(rec); err != nil {
			logger.Warnf("Failed to persist invocation of %s: %v", rec.ToolName, err)
		}
	}

	jsonData, err := json.Marshal(rec)
	if err != nil {
		logger.Warnf("Failed to marshal invocation of %s: %v", rec.ToolName, err)
	} else {
		logger.Debugf("Tool invocation: %s", string(jsonData))
	}
}
