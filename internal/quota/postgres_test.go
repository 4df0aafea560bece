package quota

import (
	"context"
	"os"
	"testing"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if CHIRP_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("CHIRP_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHIRP_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewPostgres(ctx, testDSN(t))
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.pool.Exec(ctx, `DELETE FROM premium_sessions`)
		s.Close()
	})
	_, _ = s.pool.Exec(ctx, `DELETE FROM premium_sessions`)

	storeTest(t, s)
}
