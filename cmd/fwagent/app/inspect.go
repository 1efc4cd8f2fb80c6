package app

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/fwagent/pkg/image"
)

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "Print the application descriptor of a firmware image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspect(cmd.OutOrStdout(), args[0])
		},
	}
}

func inspect(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}

	info, verr := image.Verify(f, st.Size())
	var prefix *image.Prefix
	if verr == nil {
		prefix = &info.Prefix
	} else {
		buf := make([]byte, image.MinPrefixLen)
		if _, err := io.ReadFull(io.NewSectionReader(f, 0, st.Size()), buf); err != nil {
			return fmt.Errorf("%s: %w", path, verr)
		}
		if prefix, err = image.ParsePrefix(buf); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	d := prefix.Descriptor
	table := uitable.New()
	table.AddRow("Version:", d.Version)
	table.AddRow("Project:", d.ProjectName)
	table.AddRow("Built:", d.Date+" "+d.Time)
	table.AddRow("IDF:", d.IDFVersion)
	table.AddRow("Secure version:", d.SecureVersion)
	table.AddRow("ELF SHA-256:", hex.EncodeToString(d.ELFSHA256[:]))
	table.AddRow("Segments:", prefix.Header.SegmentCount)
	table.AddRow("Hash appended:", prefix.Header.HashAppended)
	if verr == nil {
		table.AddRow("Length:", info.Length)
		table.AddRow("Valid:", "yes")
	} else {
		table.AddRow("Valid:", fmt.Sprintf("no (%v)", verr))
	}
	fmt.Fprintln(w, table)
	return nil
}
