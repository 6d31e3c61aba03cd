package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/cenkalti/backoff/v4"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pterodactyl/originfs/config"
	"github.com/pterodactyl/originfs/storage"
	"github.com/pterodactyl/originfs/system"
	"github.com/pterodactyl/originfs/tree"
)

var longListing = false

func init() {
	lsCommand.Flags().BoolVarP(&longListing, "long", "l", false, "include the size of each file")
}

var (
	lsCommand = &cobra.Command{
		Use:   "ls [directory]",
		Short: "List the children of a directory in the origin",
		Args:  cobra.MaximumNArgs(1),
		RunE: withTree(func(ctx context.Context, t *tree.Tree, args []string) error {
			p := "/"
			if len(args) > 0 {
				p = args[0]
			}
			d := t.Dir(p)
			if !d.Exists() {
				return storage.NewErrorf(storage.ErrCodeNotFound, "list", p, "directory does not exist")
			}
			dir := color.New(color.FgBlue, color.Bold)
			for _, n := range d.Children() {
				name := n.Name()
				if n.Kind() == storage.KindDirectory {
					name = dir.Sprint(name + "/")
				}
				if !longListing {
					fmt.Println(name)
					continue
				}
				size := "-"
				if f, ok := n.(tree.File); ok {
					if st, err := f.Stat(); err == nil {
						size = system.FormatBytes(st.Size)
					}
				}
				fmt.Printf("%10s  %s\n", size, name)
			}
			return nil
		}),
	}

	catCommand = &cobra.Command{
		Use:   "cat <file>",
		Short: "Print the contents of a file",
		Args:  cobra.ExactArgs(1),
		RunE: withTree(func(ctx context.Context, t *tree.Tree, args []string) error {
			var b []byte
			err := retryLocked(ctx, func() (err error) {
				b, err = t.File(args[0]).ReadAll(ctx)
				return err
			})
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(b)
			return err
		}),
	}

	writeCommand = &cobra.Command{
		Use:   "write <file> [content]",
		Short: "Replace the contents of a file, reading from stdin when no content is given",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withTree(func(ctx context.Context, t *tree.Tree, args []string) error {
			var b []byte
			if len(args) == 2 {
				b = []byte(args[1])
			} else {
				var err error
				if b, err = io.ReadAll(os.Stdin); err != nil {
					return err
				}
			}
			return retryLocked(ctx, func() error {
				return t.File(args[0]).Write(ctx, bytes.NewReader(b))
			})
		}),
	}

	mkdirCommand = &cobra.Command{
		Use:   "mkdir <directory>",
		Short: "Create a directory and any missing parents",
		Args:  cobra.ExactArgs(1),
		RunE: withTree(func(ctx context.Context, t *tree.Tree, args []string) error {
			_, err := t.Dir(args[0]).CreateDirectory()
			return err
		}),
	}

	cpCommand = &cobra.Command{
		Use:   "cp <source> <destination>",
		Short: "Copy a file or directory",
		Args:  cobra.ExactArgs(2),
		RunE: withTree(func(ctx context.Context, t *tree.Tree, args []string) error {
			out, err := transfer(ctx, t, args[0], args[1], false)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		}),
	}

	mvCommand = &cobra.Command{
		Use:   "mv <source> <destination>",
		Short: "Move a file or directory",
		Args:  cobra.ExactArgs(2),
		RunE: withTree(func(ctx context.Context, t *tree.Tree, args []string) error {
			out, err := transfer(ctx, t, args[0], args[1], true)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		}),
	}

	rmCommand = &cobra.Command{
		Use:   "rm <path>",
		Short: "Remove a file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: withTree(func(ctx context.Context, t *tree.Tree, args []string) error {
			n, _ := t.Lookup(args[0])
			return n.Remove()
		}),
	}
)

// withTree opens the origin for the duration of a single command.
func withTree(fn func(ctx context.Context, t *tree.Tree, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		stack, err := openStack(config.Get())
		if err != nil {
			return err
		}
		defer stack.Close()
		return fn(cmd.Context(), stack.tree, args)
	}
}

// transfer copies or moves src to dest. The destination takes the kind of
// whatever already exists there, or the kind of the source when nothing does.
func transfer(ctx context.Context, t *tree.Tree, src, dest string, move bool) (string, error) {
	from, ok := t.Lookup(src)
	if !ok {
		return "", storage.NewErrorf(storage.ErrCodeNotFound, "copy", src, "source does not exist")
	}
	to, exists := t.Lookup(dest)
	if !exists && from.Kind() == storage.KindDirectory {
		to = t.Dir(dest)
	}

	switch n := from.(type) {
	case tree.Directory:
		var out tree.Directory
		var err error
		if move {
			out, err = n.MoveTo(ctx, to)
		} else {
			out, err = n.CopyTo(ctx, to)
		}
		return out.Path(), err
	case tree.File:
		var out tree.File
		var err error
		if move {
			out, err = n.MoveTo(ctx, to)
		} else {
			out, err = n.CopyTo(ctx, to)
		}
		return out.Path(), err
	}
	return "", errors.Errorf("cmd: unexpected node type %T", from)
}

// retryBackOff is the policy used when a file is locked by another process.
var retryBackOff = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second
	return b
}

// retryLocked runs fn until it succeeds, fails with anything other than a
// HandleRegistrationError, or the back off gives up.
func retryLocked(ctx context.Context, fn func() error) error {
	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !storage.IsErrorCode(err, storage.ErrCodeHandleRegistration) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(retryBackOff(), ctx), func(err error, d time.Duration) {
		log.WithField("error", err).WithField("retry_in", d).Debug("file is locked, retrying")
	})
}
