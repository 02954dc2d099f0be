// vcardbook - A vCard contact book with SIP addresses.
// Copyright (C) 2024 The vcardbook Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"go.mau.fi/vcardbook/pkg/vcardmodel"
)

// EditOperation is a single model mutation that can be run from the command line.
type EditOperation struct {
	Name string
	Args []string
	Help string
	Func func(model *vcardmodel.Model, args []string) bool
}

func (op *EditOperation) Usage() string {
	var usage strings.Builder
	usage.WriteString(op.Name)
	for _, arg := range op.Args {
		usage.WriteString(" <" + arg + ">")
	}
	return usage.String()
}

func oneArg(fn func(*vcardmodel.Model, string) bool) func(*vcardmodel.Model, []string) bool {
	return func(model *vcardmodel.Model, args []string) bool {
		return fn(model, args[0])
	}
}

func twoArgs(fn func(*vcardmodel.Model, string, string) bool) func(*vcardmodel.Model, []string) bool {
	return func(model *vcardmodel.Model, args []string) bool {
		return fn(model, args[0], args[1])
	}
}

func makeEditOperations(ops ...*EditOperation) map[string]*EditOperation {
	byName := make(map[string]*EditOperation, len(ops))
	for _, op := range ops {
		byName[op.Name] = op
	}
	return byName
}

var editOperations = makeEditOperations(
	&EditOperation{Name: "set-username", Args: []string{"name"}, Help: "Change the full name", Func: oneArg((*vcardmodel.Model).SetUsername)},
	&EditOperation{Name: "set-avatar", Args: []string{"image path"}, Help: "Copy an image and use it as the avatar", Func: oneArg((*vcardmodel.Model).SetAvatar)},
	&EditOperation{Name: "add-sip", Args: []string{"address"}, Help: "Add a SIP address", Func: oneArg((*vcardmodel.Model).AddSipAddress)},
	&EditOperation{Name: "remove-sip", Args: []string{"address"}, Help: "Remove a SIP address (the last one can't be removed)", Func: oneArg((*vcardmodel.Model).RemoveSipAddress)},
	&EditOperation{Name: "update-sip", Args: []string{"old address", "new address"}, Help: "Replace a SIP address", Func: twoArgs((*vcardmodel.Model).UpdateSipAddress)},
	&EditOperation{Name: "add-company", Args: []string{"company"}, Help: "Add a company", Func: oneArg((*vcardmodel.Model).AddCompany)},
	&EditOperation{Name: "remove-company", Args: []string{"company"}, Help: "Remove a company", Func: oneArg((*vcardmodel.Model).RemoveCompany)},
	&EditOperation{Name: "update-company", Args: []string{"old company", "new company"}, Help: "Replace a company", Func: twoArgs((*vcardmodel.Model).UpdateCompany)},
	&EditOperation{Name: "add-email", Args: []string{"email"}, Help: "Add an email address", Func: oneArg((*vcardmodel.Model).AddEmail)},
	&EditOperation{Name: "remove-email", Args: []string{"email"}, Help: "Remove an email address", Func: oneArg((*vcardmodel.Model).RemoveEmail)},
	&EditOperation{Name: "update-email", Args: []string{"old email", "new email"}, Help: "Replace an email address", Func: twoArgs((*vcardmodel.Model).UpdateEmail)},
	&EditOperation{Name: "add-url", Args: []string{"url"}, Help: "Add a URL", Func: oneArg((*vcardmodel.Model).AddURL)},
	&EditOperation{Name: "remove-url", Args: []string{"url"}, Help: "Remove a URL", Func: oneArg((*vcardmodel.Model).RemoveURL)},
	&EditOperation{Name: "update-url", Args: []string{"old url", "new url"}, Help: "Replace a URL", Func: twoArgs((*vcardmodel.Model).UpdateURL)},
)

func editHelp() string {
	names := make([]string, 0, len(editOperations))
	for name := range editOperations {
		names = append(names, name)
	}
	sort.Strings(names)
	var help strings.Builder
	help.WriteString("Operations:\n")
	for _, name := range names {
		op := editOperations[name]
		_, _ = fmt.Fprintf(&help, "  %-40s %s\n", op.Usage(), op.Help)
	}
	return help.String()
}

func printJSON(out io.Writer, data any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func getContactArg(cmd *cobra.Command, uid string) (*Contact, error) {
	contact, err := book.GetContactByUID(cmd.Context(), uid)
	if err != nil {
		return nil, err
	} else if contact == nil {
		return nil, fmt.Errorf("contact %s not found", uid)
	}
	return contact, nil
}

var cmdCreate = &cobra.Command{
	Use:   "create <name> <sip address>...",
	Short: "Create a new contact",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		contact, err := book.CreateContact(cmd.Context(), args[0], args[1:]...)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), contact.Info())
	},
}

var cmdImport = &cobra.Command{
	Use:   "import <file.vcf>...",
	Short: "Import contacts from vCard files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			file, err := os.Open(path)
			if err != nil {
				return err
			}
			imported, skipped, err := book.ImportContacts(cmd.Context(), file)
			_ = file.Close()
			if err != nil {
				return fmt.Errorf("failed to import %s: %w", path, err)
			}
			cmd.Printf("%s: imported %d contacts, skipped %d without a SIP address\n", path, imported, skipped)
		}
		return nil
	},
}

var cmdExport = &cobra.Command{
	Use:   "export [uid]...",
	Short: "Write contacts to stdout in vCard format",
	RunE: func(cmd *cobra.Command, args []string) error {
		return book.ExportContacts(cmd.Context(), cmd.OutOrStdout(), args...)
	},
}

var cmdShow = &cobra.Command{
	Use:   "show <uid>",
	Short: "Show a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		contact, err := getContactArg(cmd, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), contact.Info())
	},
}

var cmdList = &cobra.Command{
	Use:   "list [name prefix]",
	Short: "List contacts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var contacts []*Contact
		var err error
		if len(args) == 1 {
			contacts, err = book.SearchContacts(cmd.Context(), args[0])
		} else {
			contacts, err = book.GetAllContacts(cmd.Context())
		}
		if err != nil {
			return err
		}
		for _, contact := range contacts {
			info := contact.Info()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", info.UID, info.Username, strings.Join(info.SipAddresses, ", "))
		}
		return nil
	},
}

var cmdEdit = &cobra.Command{
	Use:   "edit <uid> <operation> [args]...",
	Short: "Edit a contact",
	Long:  "Edit a contact.\n\n" + editHelp(),
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		op, ok := editOperations[args[1]]
		if !ok {
			return fmt.Errorf("unknown operation %q\n\n%s", args[1], editHelp())
		} else if len(args)-2 != len(op.Args) {
			return fmt.Errorf("usage: edit <uid> %s", op.Usage())
		}
		contact, err := getContactArg(cmd, args[0])
		if err != nil {
			return err
		}
		var changed bool
		_, err = contact.Edit(cmd.Context(), func(model *vcardmodel.Model) {
			changed = op.Func(model, args[2:])
		})
		if err != nil {
			return err
		} else if !changed {
			book.Metrics.TrackRejectedEdit(op.Name)
			return fmt.Errorf("%s did not change the contact", op.Name)
		}
		return printJSON(cmd.OutOrStdout(), contact.Info())
	},
}

var cmdDelete = &cobra.Command{
	Use:   "delete <uid>",
	Short: "Delete a contact and its avatar",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		contact, err := getContactArg(cmd, args[0])
		if err != nil {
			return err
		}
		return book.DeleteContact(cmd.Context(), contact)
	},
}
