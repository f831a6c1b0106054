// Command genkey prints a fresh device key pair. The public half is what a
// client registers with the relay; the private half stays on the device.
package main

import (
	"fmt"
	"os"

	"github.com/Cr0wn-Gh0ul/GhostChannel/pkg/e2ee"
)

func main() {
	kp, err := e2ee.GenerateKeyPair()
	if err != nil {
		fmt.Fprintln(os.Stderr, "genkey:", err)
		os.Exit(1)
	}
	fmt.Println("public: ", e2ee.EncodeKey(kp.Public))
	fmt.Println("private:", e2ee.EncodeKey(kp.Private))
}
