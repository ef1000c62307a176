package prompt

import (
	"fmt"
	"strings"

	"github.com/rowjay/docmigrate/internal/env"
	"github.com/rowjay/docmigrate/internal/migrate"
	"github.com/rowjay/docmigrate/internal/snapshot"
)

// Migration walks the operator through every migration option, starting
// from defaults, and asks for confirmation. Writing into production needs
// the target name typed back.
func (p *Prompter) Migration(defaults migrate.Options, environments []string) (migrate.Options, error) {
	opts := defaults
	choices := append(append([]string(nil), environments...), env.Custom)
	var err error

	if opts.Source, err = p.Choose("Source environment", choices, defaults.Source); err != nil {
		return opts, err
	}
	if opts.Source == env.Custom {
		if opts.SourceCredentials, err = p.Ask("Source credentials file", defaults.SourceCredentials); err != nil {
			return opts, err
		}
	}
	if opts.Target, err = p.Choose("Target environment", choices, defaults.Target); err != nil {
		return opts, err
	}
	if opts.Target == env.Custom {
		if opts.TargetCredentials, err = p.Ask("Target credentials file", defaults.TargetCredentials); err != nil {
			return opts, err
		}
	}

	collections, err := p.Ask("Collections (comma separated, empty for all)", strings.Join(defaults.Collections, ","))
	if err != nil {
		return opts, err
	}
	opts.Collections = splitList(collections)
	if opts.Query, err = p.Ask("Filter (field operator value, empty for none)", defaults.Query); err != nil {
		return opts, err
	}
	if opts.BatchSize, err = p.Int("Batch size", defaults.BatchSize); err != nil {
		return opts, err
	}
	if len(opts.Collections) == 0 {
		if opts.IncludeUsers, err = p.Confirm("Include the users collection?", defaults.IncludeUsers); err != nil {
			return opts, err
		}
	}
	if opts.DryRun, err = p.Confirm("Dry run (no writes)?", defaults.DryRun); err != nil {
		return opts, err
	}
	if opts.TransformData, err = p.Confirm("Transform and sanitize data?", defaults.TransformData); err != nil {
		return opts, err
	}
	if !opts.DryRun {
		if opts.Backup, err = p.Confirm("Back up the target first?", defaults.Backup); err != nil {
			return opts, err
		}
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}

	fmt.Fprintf(p.out, "\n%s -> %s, collections: %s, batch size %d, dry run %t, backup %t\n",
		opts.Source, opts.Target, describeCollections(opts.Collections), opts.BatchSize, opts.DryRun, opts.Backup && !opts.DryRun)
	ok, err := p.Confirm("Start migration?", false)
	if err != nil {
		return opts, err
	}
	if !ok {
		return opts, ErrAborted
	}
	if opts.Target == "production" && !opts.DryRun {
		if err := p.ConfirmTyped("This writes into production.", opts.Target); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

// RestoreChoice is what the operator picked for a restore.
type RestoreChoice struct {
	Snapshot          *snapshot.Manifest
	Collections       []string
	Target            string
	TargetCredentials string
}

// Restore lets the operator pick a snapshot, the collections to restore and
// the target, then asks for a typed confirmation.
func (p *Prompter) Restore(snapshots []*snapshot.Manifest, environments []string) (RestoreChoice, error) {
	var choice RestoreChoice
	if len(snapshots) == 0 {
		return choice, fmt.Errorf("no backups found")
	}
	labels := make([]string, len(snapshots))
	for i, m := range snapshots {
		labels[i] = describeSnapshot(m)
	}
	picked, err := p.Choose("Backup", labels, "")
	if err != nil {
		return choice, err
	}
	for i, l := range labels {
		if l == picked {
			choice.Snapshot = snapshots[i]
		}
	}
	if len(choice.Snapshot.Collections) == 0 {
		return choice, fmt.Errorf("backup %s has no restorable collections", choice.Snapshot.Name)
	}
	if choice.Collections, err = p.ChooseMany("Collections to restore", choice.Snapshot.CollectionNames()); err != nil {
		return choice, err
	}
	targets := append(append([]string(nil), environments...), env.Custom)
	if choice.Target, err = p.Choose("Restore into", targets, choice.Snapshot.Environment); err != nil {
		return choice, err
	}
	if choice.Target == env.Custom {
		if choice.TargetCredentials, err = p.Ask("Target credentials file", ""); err != nil {
			return choice, err
		}
	}
	warning := fmt.Sprintf("Restoring %s into %s overwrites documents with the same ids in: %s.",
		choice.Snapshot.Name, choice.Target, strings.Join(choice.Collections, ", "))
	if err := p.ConfirmTyped(warning, "restore"); err != nil {
		return choice, err
	}
	return choice, nil
}

func describeCollections(c []string) string {
	if len(c) == 0 {
		return "all"
	}
	return strings.Join(c, ", ")
}

func describeSnapshot(m *snapshot.Manifest) string {
	docs := 0
	for _, e := range m.Collections {
		docs += e.Documents
	}
	label := fmt.Sprintf("%s (%d collections, %d documents)", m.Name, len(m.Collections), docs)
	if !m.Complete() {
		label += " INCOMPLETE"
	}
	return label
}
