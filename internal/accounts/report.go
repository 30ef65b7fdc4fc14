package accounts

import (
	"fmt"
	"io"
)

// FormatReport renders the summary line for a fetched record. When the record
// has no linked providers the provider segment is omitted, unless
// requireProvider is set, in which case NoProviderData is returned.
func FormatReport(record UserRecord, requireProvider bool) (string, error) {
	providerID, ok := record.FirstProviderID()
	if !ok {
		if requireProvider {
			return "", Errorf(NoProviderData, opReport, "user %s has no linked providers", record.UID)
		}
		return fmt.Sprintf("Successfully fetched user data: %s (no linked providers)", record.UID), nil
	}
	return fmt.Sprintf("Successfully fetched user data: %s. %s", providerID, record.UID), nil
}

// FormatDeletion renders the confirmation line for a deleted account.
func FormatDeletion(uid string) string {
	return fmt.Sprintf("Successfully deleted user %s", uid)
}

// FormatCreation renders the confirmation line for a created account.
func FormatCreation(uid string) string {
	return fmt.Sprintf("Successfully created user %s", uid)
}

func writeLine(out io.Writer, line string) error {
	if _, err := fmt.Fprintln(out, line); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
