package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaskFieldRedactsSecrets(t *testing.T) {
	attr := MaskField("signature", "deadbeef")
	require.Equal(t, RedactedValue, attr.Value.String())

	attr = MaskField("runId", "run_1_deadbeef")
	require.Equal(t, "run_1_deadbeef", attr.Value.String())

	attr = MaskField("privateKey", "")
	require.Equal(t, "", attr.Value.String())
}

func TestAllowlistCoversOperationalKeysOnly(t *testing.T) {
	require.True(t, IsAllowlisted("runId"))
	require.True(t, IsAllowlisted("code"))
	require.False(t, IsAllowlisted("privateKey"))
	require.False(t, IsAllowlisted("secret"))
	require.NotEmpty(t, RedactionAllowlist())
}
