/*
Package factory converts JSON or YAML policy documents into the absence and
payroll policies used at runtime.

PURPOSE:
  Lets operators tune intake and payroll rules without a rebuild. The server
  loads the document named by POLICY_FILE at startup.

DOCUMENT SCHEMA (JSON shown, YAML uses the same keys):
  {
    "id": "default",
    "name": "Default absence policy",
    "weekly_cap": {"type": "PaidLeave", "limit": 2},
    "auto_accept_remote_work": false,
    "meal_vouchers": {"voucher_value": 8}
  }

DEFAULTS:
  Missing weekly_cap          -> PaidLeave, limit 2
  weekly_cap.limit 0          -> cap disabled
  Missing auto_accept         -> false (RemoteWork starts Pending)
  Missing voucher_value       -> 8

USAGE:
  f := factory.NewPolicyFactory()
  set, err := f.LoadFile("policy.yaml")
  svc := absence.NewService(store, set.Absence)
  pay := payroll.NewService(store, set.Payroll, logger, 0)

SEE ALSO:
  - absence/policy.go: Policy
  - payroll/vouchers.go: Policy
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/payroll"
)

// =============================================================================
// DOCUMENT SCHEMA
// =============================================================================

type PolicyDocument struct {
	ID                   string           `json:"id" yaml:"id"`
	Name                 string           `json:"name" yaml:"name"`
	WeeklyCap            *WeeklyCapDoc    `json:"weekly_cap,omitempty" yaml:"weekly_cap,omitempty"`
	AutoAcceptRemoteWork bool             `json:"auto_accept_remote_work,omitempty" yaml:"auto_accept_remote_work,omitempty"`
	MealVouchers         *MealVouchersDoc `json:"meal_vouchers,omitempty" yaml:"meal_vouchers,omitempty"`
}

type WeeklyCapDoc struct {
	Type  string `json:"type" yaml:"type"`
	Limit int    `json:"limit" yaml:"limit"`
}

type MealVouchersDoc struct {
	// Number or numeric string; kept textual so "8.50" stays exact.
	VoucherValue json.Number `json:"voucher_value,omitempty" yaml:"voucher_value,omitempty"`
}

// PolicySet is the parsed result.
type PolicySet struct {
	ID      string
	Name    string
	Absence absence.Policy
	Payroll payroll.Policy
}

func DefaultPolicySet() PolicySet {
	return PolicySet{
		ID:      "default",
		Name:    "Default absence policy",
		Absence: absence.DefaultPolicy(),
		Payroll: payroll.DefaultPolicy(),
	}
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

type PolicyFactory struct{}

func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// LoadFile reads a policy document, choosing the format from the extension.
func (f *PolicyFactory) LoadFile(path string) (PolicySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PolicySet{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	format := FormatJSON
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	}
	return f.Parse(data, format)
}

func (f *PolicyFactory) Parse(data []byte, format Format) (PolicySet, error) {
	var doc PolicyDocument
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return PolicySet{}, fmt.Errorf("%w: failed to parse policy YAML: %v", generic.ErrInvalidInput, err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return PolicySet{}, fmt.Errorf("%w: failed to parse policy JSON: %v", generic.ErrInvalidInput, err)
		}
	default:
		return PolicySet{}, fmt.Errorf("%w: unknown policy format %q", generic.ErrInvalidInput, format)
	}
	return f.FromDocument(doc)
}

// ParsePolicy parses a JSON document.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (PolicySet, error) {
	return f.Parse([]byte(jsonStr), FormatJSON)
}

func (f *PolicyFactory) FromDocument(doc PolicyDocument) (PolicySet, error) {
	set := DefaultPolicySet()
	if doc.ID != "" {
		set.ID = doc.ID
	}
	if doc.Name != "" {
		set.Name = doc.Name
	}

	if doc.WeeklyCap != nil {
		capType, err := absence.ParseEventType(doc.WeeklyCap.Type)
		if err != nil {
			return PolicySet{}, fmt.Errorf("weekly_cap.type: %w", err)
		}
		if doc.WeeklyCap.Limit < 0 {
			return PolicySet{}, fmt.Errorf("%w: weekly_cap.limit must not be negative", generic.ErrInvalidInput)
		}
		set.Absence.WeeklyCap = absence.WeeklyCap{Type: capType, Limit: doc.WeeklyCap.Limit}
	}
	set.Absence.AutoAcceptRemoteWork = doc.AutoAcceptRemoteWork

	if doc.MealVouchers != nil && doc.MealVouchers.VoucherValue != "" {
		v, err := decimal.NewFromString(string(doc.MealVouchers.VoucherValue))
		if err != nil {
			return PolicySet{}, fmt.Errorf("%w: meal_vouchers.voucher_value: %v", generic.ErrInvalidInput, err)
		}
		set.Payroll.VoucherValue = v
	}
	if err := set.Payroll.Validate(); err != nil {
		return PolicySet{}, err
	}

	return set, nil
}

// ToDocument converts a PolicySet back into its document form.
func (f *PolicyFactory) ToDocument(set PolicySet) PolicyDocument {
	return PolicyDocument{
		ID:   set.ID,
		Name: set.Name,
		WeeklyCap: &WeeklyCapDoc{
			Type:  string(set.Absence.WeeklyCap.Type),
			Limit: set.Absence.WeeklyCap.Limit,
		},
		AutoAcceptRemoteWork: set.Absence.AutoAcceptRemoteWork,
		MealVouchers:         &MealVouchersDoc{VoucherValue: json.Number(set.Payroll.VoucherValue.String())},
	}
}
