package goble

import (
	"context"
	"errors"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/potlink/internal/device"
	"github.com/srg/potlink/internal/groutine"
)

// scanRun is one go-ble Scan call; it blocks until its context is cancelled
type scanRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartScan begins discovery. A running scan is cancelled first.
// Advertisements not carrying a filtered service are dropped here because
// go-ble scans unfiltered.
func (r *Radio) StartScan(ctx context.Context, serviceFilter []string, opts device.ScanOptions, onDevice device.AdvertisementHandler) error {
	central, err := r.acquire()
	if err != nil {
		return err
	}

	r.mu.Lock()
	prev := r.scan
	r.mu.Unlock()
	if prev != nil {
		// the host rejects overlapping scans
		prev.cancel()
		select {
		case <-prev.done:
		case <-ctx.Done():
			return device.NormalizeError(ctx.Err())
		}
	}

	scanCtx, cancel := context.WithCancel(ctx)
	run := &scanRun{cancel: cancel, done: make(chan struct{})}
	r.mu.Lock()
	r.scan = run
	r.mu.Unlock()

	filter := append([]string(nil), serviceFilter...)
	handler := func(a ble.Advertisement) {
		if scanCtx.Err() != nil {
			return
		}
		adv := toAdvertisement(a)
		if !matchesFilter(adv, filter) {
			return
		}
		onDevice(&adv, nil)
	}

	r.logger.WithFields(logrus.Fields{
		"filter":           filter,
		"allow_duplicates": opts.AllowDuplicates,
	}).Debug("Starting BLE scan")

	groutine.Go(ctx, "ble-scan", func(_ context.Context) {
		defer close(run.done)
		err := central.Scan(scanCtx, opts.AllowDuplicates, handler)
		if scanCtx.Err() != nil || err == nil || errors.Is(err, context.Canceled) {
			return
		}
		err = device.NormalizeError(err)
		r.logger.WithError(err).Warn("BLE scan failed")
		if device.IsKind(err, device.RadioUnavailable) {
			r.invalidate(err)
		}
		onDevice(nil, err)
	})
	return nil
}

// StopScan cancels the running scan without waiting for go-ble to return.
// The next StartScan waits for the cancelled run to finish.
func (r *Radio) StopScan() error {
	r.mu.Lock()
	run := r.scan
	r.mu.Unlock()
	if run != nil {
		run.cancel()
	}
	return nil
}
