package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/kittclouds/voton/internal/store"
	"github.com/kittclouds/voton/pkg/pages"
	"github.com/kittclouds/voton/pkg/search"
	"github.com/kittclouds/voton/pkg/sidebar"
)

func (a *app) commands() []*Command {
	return []*Command{
		a.cmdAdd(),
		a.cmdShow(),
		a.cmdLs(),
		a.cmdTree(),
		a.cmdUpdate(),
		a.cmdRm(),
		a.cmdExport(),
		a.cmdImport(),
		a.cmdClear(),
		a.cmdSearch(),
	}
}

func newFlags(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

func (a *app) cmdAdd() *Command {
	fs := newFlags("add")
	parent := fs.StringP("parent", "p", "", "Parent page id")
	icon := fs.String("icon", "", "Page icon")
	content := fs.String("content", "", "Serialized document content")
	cover := fs.String("cover", "", "Cover image URL")

	return &Command{
		Flags: fs,
		Usage: "add [title] [flags]",
		Short: "Create a page and print its id",
		Long:  "Create a page. The title defaults to \"" + pages.DefaultTitle + "\".",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			repo, err := a.pages(ctx)
			if err != nil {
				return err
			}

			np := pages.NewPage{Title: strings.Join(args, " ")}
			if fs.Changed("parent") {
				np.ParentDocument = store.String(*parent)
			}
			if fs.Changed("icon") {
				np.Icon = store.String(*icon)
			}
			if fs.Changed("content") {
				np.Content = store.String(*content)
			}
			if fs.Changed("cover") {
				np.CoverImage = store.String(*cover)
			}

			page, err := repo.Add(ctx, np)
			if err != nil {
				return err
			}
			o.Println(page.ID)
			return nil
		},
	}
}

func (a *app) cmdShow() *Command {
	return &Command{
		Flags: newFlags("show"),
		Usage: "show <id>",
		Short: "Print a page as JSON",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errIDRequired
			}
			repo, err := a.pages(ctx)
			if err != nil {
				return err
			}

			page, err := repo.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if page == nil {
				return fmt.Errorf("%w: %s", errPageNotFound, args[0])
			}

			data, err := json.MarshalIndent(page, "", "  ")
			if err != nil {
				return err
			}
			o.Println(string(data))
			return nil
		},
	}
}

func (a *app) cmdLs() *Command {
	fs := newFlags("ls")
	parent := fs.StringP("parent", "p", "", "List the children of this page instead of the roots")

	return &Command{
		Flags: fs,
		Usage: "ls [--parent <id>]",
		Short: "List root pages or the children of a page",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			repo, err := a.pages(ctx)
			if err != nil {
				return err
			}

			var list []*store.Page
			if fs.Changed("parent") {
				list, err = repo.GetChildren(ctx, *parent)
			} else {
				list, err = repo.GetRoots(ctx)
			}
			if err != nil {
				return err
			}

			for _, p := range list {
				o.Printf("%s\t%s\n", p.ID, label(p))
			}
			return nil
		},
	}
}

func (a *app) cmdTree() *Command {
	return &Command{
		Flags: newFlags("tree"),
		Usage: "tree",
		Short: "Print every page reachable from a root",
		Long:  "Print the full page tree. Pages whose parent is missing are not shown.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			repo, err := a.pages(ctx)
			if err != nil {
				return err
			}

			tree := sidebar.New(repo, a.log)
			if err := tree.ExpandAll(ctx); err != nil {
				return err
			}
			tree.Walk(func(depth int, n *sidebar.Node) {
				o.Printf("%s%s (%s)\n", strings.Repeat("  ", depth), label(n.Page), n.Page.ID)
			})
			return nil
		},
	}
}

func (a *app) cmdUpdate() *Command {
	fs := newFlags("update")
	title := fs.String("title", "", "New title")
	parent := fs.StringP("parent", "p", "", "New parent page id")
	icon := fs.String("icon", "", "New icon")
	content := fs.String("content", "", "New serialized document content")
	cover := fs.String("cover", "", "New cover image URL")
	clearFields := fs.StringSlice("clear", nil, "Fields to remove (parent, content, cover, icon)")

	return &Command{
		Flags: fs,
		Usage: "update <id> [flags]",
		Short: "Change fields of a page",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errIDRequired
			}

			var patch pages.Patch
			set := map[string]*pages.Field{
				"title":   &patch.Title,
				"parent":  &patch.ParentDocument,
				"icon":    &patch.Icon,
				"content": &patch.Content,
				"cover":   &patch.CoverImage,
			}
			values := map[string]*string{
				"title": title, "parent": parent, "icon": icon, "content": content, "cover": cover,
			}
			for name, field := range set {
				if fs.Changed(name) {
					*field = pages.Set(*values[name])
				}
			}
			for _, name := range *clearFields {
				field, ok := set[name]
				if !ok || name == "title" {
					return fmt.Errorf("cannot clear %q", name)
				}
				*field = pages.Clear()
			}
			if patch.IsEmpty() {
				return errors.New("nothing to update")
			}

			repo, err := a.pages(ctx)
			if err != nil {
				return err
			}
			page, err := repo.Update(ctx, args[0], patch)
			if err != nil {
				return err
			}
			if page == nil {
				return fmt.Errorf("%w: %s", errPageNotFound, args[0])
			}
			o.Println(page.ID)
			return nil
		},
	}
}

func (a *app) cmdRm() *Command {
	fs := newFlags("rm")
	recursive := fs.BoolP("recursive", "r", false, "Also delete every descendant")

	return &Command{
		Flags: fs,
		Usage: "rm <id> [-r]",
		Short: "Delete a page",
		Long:  "Delete a page. Without -r its children are left with a dangling parent.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errIDRequired
			}
			repo, err := a.pages(ctx)
			if err != nil {
				return err
			}

			var ok bool
			if *recursive {
				ok, err = repo.DeleteWithChildren(ctx, args[0])
			} else {
				ok, err = repo.Delete(ctx, args[0])
			}
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", errPageNotFound, args[0])
			}
			o.Println("Deleted", args[0])
			return nil
		},
	}
}

func (a *app) cmdExport() *Command {
	fs := newFlags("export")
	dir := fs.StringP("dir", "d", "", "Output directory (overrides VOTON_EXPORT_DIR)")

	return &Command{
		Flags: fs,
		Usage: "export [--dir <dir>]",
		Short: "Write every page to a JSON export file",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			svc, err := a.transferService(ctx)
			if err != nil {
				return err
			}

			target := a.cfg.Export.Dir
			if fs.Changed("dir") {
				target = *dir
			}
			path, err := svc.ExportToFile(ctx, target)
			if err != nil {
				return err
			}
			o.Println(path)
			return nil
		},
	}
}

func (a *app) cmdImport() *Command {
	return &Command{
		Flags: newFlags("import"),
		Usage: "import <file>",
		Short: "Replace every page with the contents of an export file",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errors.New("export file is required")
			}
			svc, err := a.transferService(ctx)
			if err != nil {
				return err
			}

			n, err := svc.ImportFile(ctx, args[0])
			if err != nil {
				return err
			}
			o.Printf("Imported %d pages\n", n)
			return nil
		},
	}
}

func (a *app) cmdClear() *Command {
	fs := newFlags("clear")
	yes := fs.BoolP("yes", "y", false, "Confirm deleting every page")

	return &Command{
		Flags: fs,
		Usage: "clear --yes",
		Short: "Delete every page",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			if !*yes {
				return errors.New("refusing to delete every page without --yes")
			}
			svc, err := a.transferService(ctx)
			if err != nil {
				return err
			}
			if err := svc.ClearAll(ctx); err != nil {
				return err
			}
			o.Println("Cleared")
			return nil
		},
	}
}

func (a *app) cmdSearch() *Command {
	return &Command{
		Flags: newFlags("search"),
		Usage: "search <query>",
		Short: "Find pages by title",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			repo, err := a.pages(ctx)
			if err != nil {
				return err
			}

			ix := search.NewIndex(repo, a.log)
			if err := ix.Refresh(ctx); err != nil {
				return err
			}
			for _, h := range ix.Search(strings.Join(args, " ")) {
				o.Printf("%s\t%s\n", h.ID, h.Title)
			}
			return nil
		},
	}
}

func label(p *store.Page) string {
	if p.Icon != nil && *p.Icon != "" {
		return *p.Icon + " " + p.Title
	}
	return p.Title
}
