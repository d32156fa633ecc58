package db

import "testing"

func TestConnect_RejectsBadDSN(t *testing.T) {
	for _, dsn := range []string{"", "postgres://%zz@localhost/db"} {
		if _, err := Connect(dsn, false); err == nil {
			t.Errorf("Connect(%q) should fail", dsn)
		}
	}
}
