package tlsutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildSkipVerify(t *testing.T) {
	cfg, err := Build(Options{SkipVerify: true})
	require.NoError(t, err)
	require.True(t, cfg.InsecureSkipVerify)
	require.Nil(t, cfg.RootCAs)
}

func TestBuildMissingClientKey(t *testing.T) {
	_, err := Build(Options{ClientCertificate: "cert.pem"})
	require.Error(t, err)
}

func TestBuildMissingServerCertFile(t *testing.T) {
	_, err := Build(Options{ServerCertificate: "/nonexistent/ca.pem"})
	require.Error(t, err)
}
