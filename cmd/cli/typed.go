package main

import (
	"encoding/base32"
	"errors"
	"flag"
	"fmt"
	"regexp"
	"strings"

	u "github.com/gofrs/uuid/v5"

	"github.com/and161185/portal-keeper/internal/model"
)

// credFlags are the credential fields shared by add and update.
type credFlags struct {
	service, portalType, baseURL *string
	user, pass, mfa, totp        *string
	notes, notesFile             *string
	schedule, syncTime           *string
	dow, dom                     *int
	autoOnOpen, notify           *bool
}

func bindCredFlags(fs *flag.FlagSet) *credFlags {
	return &credFlags{
		service:    fs.String("service", "", "service name"),
		portalType: fs.String("type", "", "portal type"),
		baseURL:    fs.String("url", "", "portal base URL"),
		user:       fs.String("u", "", "portal username"),
		pass:       fs.String("p", "", "portal password"),
		mfa:        fs.String("mfa", "", "mfa method"),
		totp:       fs.String("totp", "", "base32 TOTP secret"),
		notes:      fs.String("notes", "", "notes"),
		notesFile:  fs.String("notes-file", "", "read notes from file ('-'=stdin)"),
		schedule:   fs.String("schedule", "", "manual|daily|weekly|monthly"),
		syncTime:   fs.String("at", "", "sync time HH:MM"),
		dow:        fs.Int("dow", 0, "sync day of week (0=Sunday)"),
		dom:        fs.Int("dom", 0, "sync day of month (1-31)"),
		autoOnOpen: fs.Bool("auto-on-open", false, "sync when opened if overdue"),
		notify:     fs.Bool("notify", false, "notify after sync"),
	}
}

// visited returns the names of flags given on the command line.
func visited(fs *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// inputFromFlags builds an add request; unset optional flags keep server defaults.
func inputFromFlags(args []string) (model.CredentialInput, error) {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	cf := bindCredFlags(fs)
	if err := fs.Parse(args); err != nil {
		return model.CredentialInput{}, errUsage
	}
	set := visited(fs)
	if err := cf.validate(set); err != nil {
		return model.CredentialInput{}, err
	}
	notes, err := cf.notesValue(set)
	if err != nil {
		return model.CredentialInput{}, err
	}

	var missing []string
	for _, f := range []struct{ name, v string }{
		{"service", *cf.service}, {"type", *cf.portalType}, {"u", *cf.user}, {"p", *cf.pass},
	} {
		if f.v == "" {
			missing = append(missing, "-"+f.name)
		}
	}
	if len(missing) > 0 {
		return model.CredentialInput{}, fmt.Errorf("need %s", strings.Join(missing, " "))
	}

	in := model.CredentialInput{
		ServiceName:  *cf.service,
		PortalType:   *cf.portalType,
		BaseURL:      *cf.baseURL,
		Username:     *cf.user,
		Password:     *cf.pass,
		MFAMethod:    *cf.mfa,
		Notes:        notes,
		SyncSchedule: model.Schedule(*cf.schedule),
		SyncTime:     *cf.syncTime,
	}
	if set["totp"] {
		in.TOTPSecret = normTOTP(*cf.totp)
	}
	if set["dow"] {
		in.SyncDayOfWeek = cf.dow
	}
	if set["dom"] {
		in.SyncDayOfMonth = cf.dom
	}
	if set["auto-on-open"] {
		in.AutoSyncOnOpen = cf.autoOnOpen
	}
	if set["notify"] {
		in.NotifyOnSync = cf.notify
	}
	return in, nil
}

// patchFromFlags builds an update request carrying only the flags given.
func patchFromFlags(args []string) (string, model.CredentialPatch, error) {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	id := fs.String("id", "", "credential id (uuid)")
	cf := bindCredFlags(fs)
	if err := fs.Parse(args); err != nil {
		return "", model.CredentialPatch{}, errUsage
	}
	if err := validID(*id); err != nil {
		return "", model.CredentialPatch{}, err
	}
	set := visited(fs)
	if err := cf.validate(set); err != nil {
		return "", model.CredentialPatch{}, err
	}
	notes, err := cf.notesValue(set)
	if err != nil {
		return "", model.CredentialPatch{}, err
	}

	var p model.CredentialPatch
	str := func(name string, v *string) *string {
		if set[name] {
			return v
		}
		return nil
	}
	p.ServiceName = str("service", cf.service)
	p.PortalType = str("type", cf.portalType)
	p.BaseURL = str("url", cf.baseURL)
	p.Username = str("u", cf.user)
	p.Password = str("p", cf.pass)
	p.MFAMethod = str("mfa", cf.mfa)
	p.SyncTime = str("at", cf.syncTime)
	p.Notes = notes
	if set["totp"] {
		p.TOTPSecret = normTOTP(*cf.totp)
	}
	if set["schedule"] {
		s := model.Schedule(*cf.schedule)
		p.SyncSchedule = &s
	}
	if set["dow"] {
		p.SyncDayOfWeek = cf.dow
	}
	if set["dom"] {
		p.SyncDayOfMonth = cf.dom
	}
	if set["auto-on-open"] {
		p.AutoSyncOnOpen = cf.autoOnOpen
	}
	if set["notify"] {
		p.NotifyOnSync = cf.notify
	}
	if p.Empty() {
		return "", model.CredentialPatch{}, errors.New("nothing to update")
	}
	return *id, p, nil
}

func (cf *credFlags) notesValue(set map[string]bool) (*string, error) {
	switch {
	case set["notes"] && set["notes-file"]:
		return nil, errors.New("use -notes or -notes-file, not both")
	case set["notes"]:
		return cf.notes, nil
	case set["notes-file"]:
		b, err := readAll(*cf.notesFile)
		if err != nil {
			return nil, err
		}
		s := string(b)
		return &s, nil
	}
	return nil, nil
}

func (cf *credFlags) validate(set map[string]bool) error {
	if set["schedule"] && !model.Schedule(*cf.schedule).Valid() {
		return fmt.Errorf("invalid -schedule %q", *cf.schedule)
	}
	if set["at"] && !validSyncTime(*cf.syncTime) {
		return fmt.Errorf("invalid -at %q (want HH:MM)", *cf.syncTime)
	}
	if set["dow"] && (*cf.dow < 0 || *cf.dow > 6) {
		return errors.New("-dow must be 0-6")
	}
	if set["dom"] && (*cf.dom < 1 || *cf.dom > 31) {
		return errors.New("-dom must be 1-31")
	}
	if set["totp"] && *cf.totp != "" && !isBase32(*cf.totp) {
		return errors.New("-totp must be base32")
	}
	return nil
}

// ------- validators -------

func validID(id string) error {
	if id == "" {
		return errors.New("need -id")
	}
	if _, err := u.FromString(id); err != nil {
		return fmt.Errorf("bad -id: %w", err)
	}
	return nil
}

var reHHMM = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

func validSyncTime(s string) bool { return reHHMM.MatchString(s) }

func isBase32(s string) bool {
	_, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(strings.TrimRight(strings.ReplaceAll(s, " ", ""), "=")))
	return err == nil
}

// normTOTP uppercases a secret; an empty secret clears it.
func normTOTP(s string) *string {
	v := strings.ToUpper(strings.ReplaceAll(s, " ", ""))
	return &v
}
