package engine

import (
	"context"
	"fmt"
)

// writePrivileges replays SHOW GRANTS for every account holding privileges
// on the schema. An account whose grants cannot be read is skipped.
func (a *Assembler) writePrivileges(ctx context.Context, w *sectionWriter, report *Report) error {
	defer a.progress()

	grantees, err := a.catalog.Grantees(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("failed to list grantees, privileges skipped")
		return nil
	}

	type grantSet struct {
		grantee string
		grants  []string
	}
	var sets []grantSet
	for _, g := range grantees {
		grants, err := a.grants(ctx, g)
		if err != nil {
			a.log.Warn().Err(err).Str("grantee", g).Msg("failed to read grants, grantee skipped")
			report.SkippedGrantees = append(report.SkippedGrantees, g)
			continue
		}
		sets = append(sets, grantSet{grantee: g, grants: grants})
		report.Grantees = append(report.Grantees, g)
	}
	if len(sets) == 0 {
		return nil
	}

	w.enter(SectionPrivileges)
	w.banner()
	for _, s := range sets {
		w.comment("Grants for %s", s.grantee)
		w.statements(s.grants)
		if err := w.blank(); err != nil {
			return err
		}
	}
	return nil
}

func (a *Assembler) grants(ctx context.Context, grantee string) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, a.d.ShowGrantsQuery(grantee))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}
