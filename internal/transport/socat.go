package transport

import (
	"context"
	"os/exec"
)

// SocatPair names the two ends of a virtual serial link created by socat.
type SocatPair struct {
	Link string
	Peer string
}

func BuildSocatPairCmd(ctx context.Context, pair SocatPair) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "socat",
		"-d", "-d",
		"pty,raw,echo=0,link="+pair.Link,
		"pty,raw,echo=0,link="+pair.Peer,
	)
	return cmd
}
