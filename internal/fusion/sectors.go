package fusion

import (
	"context"
	"strings"

	"github.com/vatfusion/vatfusion/internal/feed"
	"github.com/vatfusion/vatfusion/internal/refdata"
	"github.com/vatfusion/vatfusion/pkg/logger"
)

// SectorMerger groups raw controller sessions into logical sector units
// (airport / TRACON / FIR) using prefix lookup tables built from the
// reference boundary data. The tables are rebuilt only when the boundary
// document's version marker changes.
type SectorMerger struct {
	refdata *refdata.Client
	logger  *logger.Logger

	firPrefixes    map[string]string // registered prefix -> boundary id
	traconPrefixes map[string]string
}

// NewSectorMerger creates a sector merging stage
func NewSectorMerger(refdataClient *refdata.Client, loggerObj *logger.Logger) *SectorMerger {
	return &SectorMerger{
		refdata:        refdataClient,
		logger:         loggerObj.Named("sector-merge"),
		firPrefixes:    map[string]string{},
		traconPrefixes: map[string]string{},
	}
}

// Refresh rebuilds the prefix tables when the boundary version changed.
// A fetch failure keeps the previous tables; sessions keep resolving
// against slightly stale boundaries rather than being dropped wholesale.
func (m *SectorMerger) Refresh(ctx context.Context) error {
	data, changed, err := m.refdata.Boundaries(ctx)
	if err != nil {
		return err
	}
	if !changed && len(m.firPrefixes) > 0 {
		return nil
	}

	m.firPrefixes = buildPrefixTable(data.FIRs)
	m.traconPrefixes = buildPrefixTable(data.TRACONs)

	m.logger.Info("Sector prefix tables rebuilt",
		logger.String("version", data.Version),
		logger.Int("fir_prefixes", len(m.firPrefixes)),
		logger.Int("tracon_prefixes", len(m.traconPrefixes)),
	)

	return nil
}

// buildPrefixTable maps every registered dash-delimited prefix to its
// boundary id. An empty registered prefix maps the boundary's own id to
// itself.
func buildPrefixTable(boundaries []refdata.Boundary) map[string]string {
	table := make(map[string]string, len(boundaries))
	for _, boundary := range boundaries {
		if boundary.Prefix == "" {
			table[boundary.ID] = boundary.ID
			continue
		}
		for _, prefix := range strings.Split(boundary.Prefix, "-") {
			if prefix != "" {
				table[prefix] = boundary.ID
			}
		}
	}
	return table
}

// Merge maps every raw session into exactly one merged group. Enroute
// sessions resolve against the FIR table, approach sessions against the
// TRACON table, both by longest-first callsign prefix; sessions that miss
// their table are dropped from this cycle's output. All other facilities
// group under their airport's top-level callsign prefix.
func (m *SectorMerger) Merge(sessions []*ControllerRecord) map[string]*MergedController {
	merged := make(map[string]*MergedController)

	add := func(id, kind, prefix string, session *ControllerRecord) {
		group, ok := merged[id]
		if !ok {
			group = &MergedController{ID: id, Kind: kind, Prefix: prefix}
			merged[id] = group
		}
		group.Sessions = append(group.Sessions, session)
	}

	for _, session := range sessions {
		switch session.Facility {
		case feed.FacilityEnroute:
			if boundaryID, ok := lookupByCallsignPrefix(session.Callsign, m.firPrefixes); ok {
				add("fir_"+boundaryID, "fir", boundaryID, session)
			} else {
				m.logger.Debug("Dropping enroute session with no FIR match",
					logger.String("callsign", session.Callsign))
			}

		case feed.FacilityApproach:
			if boundaryID, ok := lookupByCallsignPrefix(session.Callsign, m.traconPrefixes); ok {
				add("tracon_"+boundaryID, "tracon", boundaryID, session)
			} else {
				m.logger.Debug("Dropping approach session with no TRACON match",
					logger.String("callsign", session.Callsign))
			}

		default:
			// Airport positions (delivery/ground/tower/ATIS) group by their
			// top-level callsign prefix directly
			prefix := session.Callsign
			if idx := strings.Index(prefix, "_"); idx > 0 {
				prefix = prefix[:idx]
			}
			add("airport_"+prefix, "airport", prefix, session)
		}
	}

	return merged
}

// lookupByCallsignPrefix decomposes the callsign into successively shorter
// underscore-delimited prefixes (longest first) and returns the first table
// hit
func lookupByCallsignPrefix(callsign string, table map[string]string) (string, bool) {
	parts := strings.Split(callsign, "_")
	for i := len(parts); i >= 1; i-- {
		prefix := strings.Join(parts[:i], "_")
		if id, ok := table[prefix]; ok {
			return id, true
		}
	}
	return "", false
}
