package host

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager/conformance"
)

func TestConformance(t *testing.T) {
	svc := newTestService(t, stubProbe{memoryMB: 512})

	_, err := svc.Launch(LaunchRequest{BundleName: "com.example.mail"})
	require.NoError(t, err)

	conformance.Run(t, conformance.Harness{
		Privileged:   conformance.Bind(svc, admin),
		Unprivileged: conformance.Bind(svc, plain),
		Bundle:       "com.example.mail",
	})
}
