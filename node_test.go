// Copyright 2025 UltraRentz Ltd
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package escrowd_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	escrowd "github.com/ultrarentz/escrowd"
	"github.com/ultrarentz/escrowd/escrow"
	"github.com/ultrarentz/escrowd/ledgerlog"
)

// startTestNode runs a node with in-memory storage and waits until its
// components are wired.
func startTestNode(t *testing.T) (*escrowd.Node, <-chan error) {
	t.Helper()
	n, err := escrowd.New(escrowd.NewConfig(
		escrowd.WithDAOAddress("dao1"),
		escrowd.WithDataDir(t.TempDir()),
		escrowd.WithPipelineWorkers(1),
	))
	require.NoError(t, err)
	errCh := make(chan error, 1)
	go func() {
		errCh <- n.Run()
	}()
	require.Eventually(t, func() bool {
		return n.LedgerLog() != nil && n.Store() != nil && n.Notifier() != nil
	}, 5*time.Second, 10*time.Millisecond, "node did not start")
	return n, errCh
}

func TestNodeEndToEnd(t *testing.T) {
	n, errCh := startTestNode(t)

	notifications, cancel := n.Notifier().SubscribeDeposit(7)
	defer cancel()

	_, err := n.LedgerLog().Append(ledgerlog.EventEnvelope{
		Position: ledgerlog.Position{BlockHeight: 1},
		TxHash:   "0x01",
		Event: ledgerlog.DepositReceived{
			ID:       7,
			Tenant:   "tenant1",
			Landlord: "landlord1",
			Token:    "USDC",
			Amount:   decimal.RequireFromString("1500.00"),
			Signatories: []string{
				"sig0", "sig1", "sig2", "sig3", "sig4", "sig5",
			},
		},
	})
	require.NoError(t, err)

	select {
	case notification := <-notifications:
		assert.Equal(t, escrow.DepositCreatedEventType, notification.EventType)
		assert.Equal(t, uint64(7), notification.DepositID)
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for deposit created notification")
	}

	require.Eventually(t, func() bool {
		deposit, err := n.Store().GetDeposit(7, nil)
		return err == nil && deposit.Status == string(escrow.StatusActive)
	}, 5*time.Second, 10*time.Millisecond, "deposit was not projected")

	require.NoError(t, n.Stop())
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for node to stop")
	}
}

func TestNodeCatchUpOnRestart(t *testing.T) {
	dataDir := t.TempDir()
	newNode := func() (*escrowd.Node, <-chan error) {
		n, err := escrowd.New(escrowd.NewConfig(
			escrowd.WithDAOAddress("dao1"),
			escrowd.WithDataDir(dataDir),
			escrowd.WithPipelineWorkers(1),
		))
		require.NoError(t, err)
		errCh := make(chan error, 1)
		go func() {
			errCh <- n.Run()
		}()
		require.Eventually(t, func() bool {
			return n.LedgerLog() != nil && n.Store() != nil
		}, 5*time.Second, 10*time.Millisecond, "node did not start")
		return n, errCh
	}

	n, errCh := newNode()
	_, err := n.LedgerLog().Append(ledgerlog.EventEnvelope{
		Position: ledgerlog.Position{BlockHeight: 1},
		TxHash:   "0x01",
		Event: ledgerlog.DepositReceived{
			ID:       7,
			Tenant:   "tenant1",
			Landlord: "landlord1",
			Token:    "USDC",
			Amount:   decimal.RequireFromString("1500.00"),
			Signatories: []string{
				"sig0", "sig1", "sig2", "sig3", "sig4", "sig5",
			},
		},
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := n.Store().GetDeposit(7, nil)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, n.Stop())
	<-errCh

	// Restarting over the same data replays the log; the dedup check keeps
	// the projection unchanged.
	n, errCh = newNode()
	require.Eventually(t, func() bool {
		stats, err := n.Store().GetStats(nil)
		return err == nil && stats.TotalDeposits == 1
	}, 5*time.Second, 10*time.Millisecond)
	errs, err := n.Store().GetReconciliationErrors(7, nil)
	require.NoError(t, err)
	assert.Empty(t, errs)
	require.NoError(t, n.Stop())
	<-errCh
}
