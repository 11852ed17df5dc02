// Package integration runs the session and federation flows against a real
// postgres. Tests skip unless AUTH_TEST_DATABASE_URL is set.
package integration
