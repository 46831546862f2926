package otel

import (
	"context"
	"errors"
	"fmt"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() goGuard.MetricsSnapshot
}

// member is one goGuard counter reported as an attribute value of a family.
type member struct {
	id    goGuard.MetricID
	value string
}

// family groups related goGuard counters under a single instrument split
// by one attribute. An empty attr reports the single member unlabelled.
type family struct {
	name        string
	unit        string
	description string
	attr        string
	members     []member
}

// families lists the instruments registered by NewExporter. Every counter
// in internaldefs.CounterDefs belongs to exactly one family.
var families = []family{
	{
		name:        "goguard.gate.decisions",
		unit:        "{decision}",
		description: "Gate decisions by outcome.",
		attr:        "outcome",
		members: []member{
			{goGuard.MetricGateAllowed, "allow"},
			{goGuard.MetricGateBlocked, "blocked"},
			{goGuard.MetricGateRateLimited, "rate_limited"},
			{goGuard.MetricGateRequiresVerification, "requires_verification"},
		},
	},
	{
		name:        "goguard.gate.degraded",
		unit:        "{check}",
		description: "Gate checks that failed open on backend errors.",
		attr:        "check",
		members: []member{
			{goGuard.MetricRateLimitDegraded, "rate_limit"},
			{goGuard.MetricLockoutDegraded, "lockout"},
			{goGuard.MetricBlocklistDegraded, "blocklist"},
		},
	},
	{
		name:        "goguard.credentials",
		unit:        "{credential}",
		description: "Credential lifecycle operations.",
		attr:        "op",
		members: []member{
			{goGuard.MetricCredentialsIssued, "issue"},
			{goGuard.MetricCredentialsRotated, "rotate"},
			{goGuard.MetricCredentialsRevoked, "revoke"},
			{goGuard.MetricTokenReplay, "replay"},
		},
	},
	{
		name:        "goguard.enforcement",
		unit:        "{action}",
		description: "Locks, blocks and violation responses applied.",
		attr:        "action",
		members: []member{
			{goGuard.MetricAccountLocked, "lock_account"},
			{goGuard.MetricAddressBlocked, "block_address"},
			{goGuard.MetricViolation, "violation_response"},
		},
	},
	{
		name:        "goguard.login.failures",
		unit:        "{attempt}",
		description: "Failed login results reported.",
		members:     []member{{goGuard.MetricLoginFailure, ""}},
	},
	{
		name:        "goguard.sweeps",
		unit:        "{pass}",
		description: "Sweep passes by result.",
		attr:        "result",
		members: []member{
			{goGuard.MetricSweepRun, "run"},
			{goGuard.MetricSweepFailure, "failed"},
		},
	},
	{
		name:        "goguard.audit.dropped",
		unit:        "{event}",
		description: "Audit events dropped by a full buffer.",
		members:     []member{{goGuard.MetricAuditDropped, ""}},
	},
}

type observedMember struct {
	id  goGuard.MetricID
	opt metric.ObserveOption
}

type observedFamily struct {
	instrument metric.Int64ObservableCounter
	members    []observedMember
}

// Exporter keeps the callback registration alive until Close.
type Exporter struct {
	source       metricsSource
	registration metric.Registration
	families     []observedFamily

	latencyBuckets metric.Int64ObservableGauge
	latencyCount   metric.Int64ObservableCounter
	bucketOpts     [8]metric.ObserveOption
}

// NewExporter registers instruments on meter that read from guard.
func NewExporter(meter metric.Meter, guard *goGuard.Guard) (*Exporter, error) {
	if guard == nil {
		return nil, ErrNilSource
	}
	return NewExporterFromSource(meter, guard)
}

// NewExporterFromSource is NewExporter for any snapshot source.
func NewExporterFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source, families: make([]observedFamily, 0, len(families))}
	observables := make([]metric.Observable, 0, len(families)+2)

	for _, f := range families {
		ins, err := meter.Int64ObservableCounter(f.name, metric.WithUnit(f.unit), metric.WithDescription(f.description))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", f.name, err)
		}
		of := observedFamily{instrument: ins, members: make([]observedMember, 0, len(f.members))}
		for _, m := range f.members {
			var attrs attribute.Set
			if f.attr != "" {
				attrs = attribute.NewSet(attribute.String(f.attr, m.value))
			}
			of.members = append(of.members, observedMember{id: m.id, opt: metric.WithAttributeSet(attrs)})
		}
		e.families = append(e.families, of)
		observables = append(observables, ins)
	}

	latency := internaldefs.HistogramDefs[0]
	buckets, err := meter.Int64ObservableGauge("goguard.gate.latency.buckets",
		metric.WithUnit("{evaluation}"),
		metric.WithDescription(latency.Help+" Cumulative count per upper bound in seconds."))
	if err != nil {
		return nil, fmt.Errorf("create latency bucket gauge: %w", err)
	}
	count, err := meter.Int64ObservableCounter("goguard.gate.latency.count",
		metric.WithUnit("{evaluation}"),
		metric.WithDescription(latency.Help+" Total observations."))
	if err != nil {
		return nil, fmt.Errorf("create latency count: %w", err)
	}
	e.latencyBuckets, e.latencyCount = buckets, count
	for i, le := range internaldefs.HistogramBounds {
		e.bucketOpts[i] = metric.WithAttributeSet(attribute.NewSet(attribute.String("le", le)))
	}
	observables = append(observables, buckets, count)

	registration, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *Exporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	if len(snapshot.Counters) > 0 {
		for _, f := range e.families {
			for _, m := range f.members {
				observer.ObserveInt64(f.instrument, int64(snapshot.Counters[m.id]), m.opt)
			}
		}
	}

	raw, ok := snapshot.Histograms[internaldefs.HistogramDefs[0].ID]
	if !ok {
		return nil
	}
	cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
	for i, v := range cumulative {
		observer.ObserveInt64(e.latencyBuckets, int64(v), e.bucketOpts[i])
	}
	observer.ObserveInt64(e.latencyCount, int64(cumulative[len(cumulative)-1]))
	return nil
}

// Close unregisters the callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
