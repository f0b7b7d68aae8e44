package ssh

import "strings"

// nameList renders a comma-separated, order-significant algorithm list for
// a KEXINIT field, RFC 4251 section 5.
func nameList(names ...string) string {
	return strings.Join(names, ",")
}

// splitNameList parses a KEXINIT name-list field back into its entries. An
// empty string yields zero entries (not one empty entry).
func splitNameList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// findCommonAlgorithm walks the client's list in preference order and
// returns the first entry that also appears on the server's list, per
// spec.md section 4.C step 2. This is the client's list, never the
// server's, that governs preference order.
func findCommonAlgorithm(clientAlgos, serverAlgos []string) (string, bool) {
	for _, c := range clientAlgos {
		for _, s := range serverAlgos {
			if c == s {
				return c, true
			}
		}
	}
	return "", false
}

// containsName reports whether name appears in names.
func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

const strictKexMarkerC2S = "kex-strict-c-v00@openssh.com"
const strictKexMarkerS2C = "kex-strict-s-v00@openssh.com"
