// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package unreplicated

import (
	"fmt"
	"testing"
	"time"

	"github.com/oskr-smr/smrcore/app"
	"github.com/oskr-smr/smrcore/simtransport"
	"github.com/oskr-smr/smrcore/smrclient"
	"github.com/oskr-smr/smrcore/smrtype"
)

// TestTenClientsEndToEnd matches the "unreplicated end-to-end with 10
// clients" scenario: ten independent clients each invoke one operation
// against a single replica and all ten must observe their own result.
func TestTenClientsEndToEnd(t *testing.T) {
	tr := simtransport.New([]string{"replica"}, "", false)
	a := app.NewEchoApp()
	New[string](0, "replica", tr, a)

	config := smrtype.Config[string]{F: 0, Replicas: []string{"replica"}}

	const n = 10
	results := make([]string, n)
	for i := 0; i < n; i++ {
		self := tr.AllocateAddress()
		c := smrclient.New[string](smrtype.ClientId(i+1), self, tr, config, smrclient.SendAll, 50*time.Millisecond, 1)
		op := fmt.Sprintf("op-%d", i)
		c.Invoke(smrtype.NewData([]byte(op)), func(result smrtype.Data) {
			results[i] = result.String()
		})
	}

	if err := tr.Run(time.Second); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < n; i++ {
		want := fmt.Sprintf("Re: op-%d", i)
		if results[i] != want {
			t.Fatalf("client %d: got %q, want %q", i, results[i], want)
		}
	}
	if len(a.Ops) != n {
		t.Fatalf("expected the application to see %d ops, got %d", n, len(a.Ops))
	}
}

// TestResendUnderDrop matches the "resend under drop" scenario: the first
// attempt is dropped by a filter, and the client's resend timer must
// recover the request without the caller doing anything extra.
func TestResendUnderDrop(t *testing.T) {
	tr := simtransport.New([]string{"replica"}, "", false)
	a := app.NewEchoApp()
	New[string](0, "replica", tr, a)

	config := smrtype.Config[string]{F: 0, Replicas: []string{"replica"}}
	self := tr.AllocateAddress()
	c := smrclient.New[string](1, self, tr, config, smrclient.SendAll, 20*time.Millisecond, 1)

	dropFirst := true
	filterId := tr.AddFilter(func(source, dest string, delay *time.Duration) bool {
		if dest == "replica" && dropFirst {
			dropFirst = false
			return false
		}
		return true
	})
	defer tr.RemoveFilter(filterId)

	var result string
	c.Invoke(smrtype.NewData([]byte("x")), func(r smrtype.Data) { result = r.String() })

	if err := tr.Run(time.Second); err != nil {
		t.Fatal(err)
	}
	if result != "Re: x" {
		t.Fatalf("expected the resend to eventually succeed, got %q", result)
	}
}
