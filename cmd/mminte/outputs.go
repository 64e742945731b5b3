package main

import (
	"os"

	"mminte/internal/growth"
	"mminte/internal/interaction"
	"mminte/internal/tables"
)

// outputs holds the open TSV tables of one batch.
type outputs struct {
	files        []*os.File
	growth       *tables.Writer[growth.Record]
	interactions *tables.Writer[interaction.Record]
}

// openGrowth opens the growth table for appending. Later batches add
// rows to the same table.
func (o *outputs) openGrowth(path string) error {
	f, err := tables.OpenAppend(path, tables.GrowthHeader)
	if err != nil {
		return err
	}
	o.files = append(o.files, f)
	o.growth = tables.NewGrowthWriter(f)
	return nil
}

// openInteractions opens the interaction table. With appending false the
// table is truncated first.
func (o *outputs) openInteractions(path string, appending bool) error {
	open := tables.Create
	if appending {
		open = tables.OpenAppend
	}
	f, err := open(path, tables.InteractionHeader)
	if err != nil {
		return err
	}
	o.files = append(o.files, f)
	o.interactions = tables.NewInteractionWriter(f)
	return nil
}

func (o *outputs) Close() error {
	var first error
	for _, f := range o.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
