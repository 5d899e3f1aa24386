package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/zodbtool/internal/hashreg"
	"github.com/roach88/zodbtool/internal/zodb"
)

// Scenario defines a conformance test scenario: a transaction history to
// replay into a fresh storage, whose dump is then checked against a golden
// file and against the round-trip law.
type Scenario struct {
	// Name uniquely identifies this scenario. It is also the golden
	// file name under testdata/golden.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// HashFunc names the hash function used when dumping the replayed
	// history. Defaults to sha1.
	HashFunc string `yaml:"hash_func,omitempty"`

	// Transactions is the history to commit, in order. Tids must be
	// strictly increasing.
	Transactions []TxnSpec `yaml:"transactions"`
}

// TxnSpec describes one transaction to commit.
type TxnSpec struct {
	// Tid is the transaction id, 16 hex digits. The transaction is
	// committed at exactly this tid.
	Tid string `yaml:"tid"`

	// Status is the one-character transaction status. Defaults to " ".
	Status string `yaml:"status,omitempty"`

	// User, Description and Extension are the transaction metadata.
	User        string `yaml:"user"`
	Description string `yaml:"description"`
	Extension   string `yaml:"extension"`

	// Objects lists the object records the transaction commits.
	Objects []ObjSpec `yaml:"objects"`
}

// ObjSpec describes one object record. Exactly one of Data, Delete or
// From must be set.
type ObjSpec struct {
	// Oid is the object id, 16 hex digits.
	Oid string `yaml:"oid"`

	// Data is the object's new value.
	Data *string `yaml:"data,omitempty"`

	// Delete marks the object as removed in this transaction.
	Delete bool `yaml:"delete,omitempty"`

	// From makes the object's value a copy of its value as of the named
	// tid (16 hex digits).
	From string `yaml:"from,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "object:" vs "objects:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.HashFunc != "" {
		if _, ok := hashreg.New(s.HashFunc); !ok {
			return fmt.Errorf("unknown hash function %q", s.HashFunc)
		}
	}

	if len(s.Transactions) == 0 {
		return fmt.Errorf("transactions list is required and must be non-empty")
	}

	prev := zodb.Tid(0)
	for i, txn := range s.Transactions {
		tid, err := zodb.ParseTid(txn.Tid)
		if err != nil {
			return fmt.Errorf("transactions[%d]: %w", i, err)
		}
		if tid <= prev {
			return fmt.Errorf("transactions[%d]: tid %s is not increasing", i, tid)
		}
		prev = tid

		if len(txn.Status) > 1 {
			return fmt.Errorf("transactions[%d]: status must be a single character", i)
		}
		if txn.Status != "" && !zodb.TxnStatus(txn.Status[0]).Valid() {
			return fmt.Errorf("transactions[%d]: invalid status %q", i, txn.Status)
		}

		if len(txn.Objects) == 0 {
			return fmt.Errorf("transactions[%d]: objects list is required and must be non-empty", i)
		}
		for j, obj := range txn.Objects {
			if err := validateObjSpec(&obj); err != nil {
				return fmt.Errorf("transactions[%d].objects[%d]: %w", i, j, err)
			}
		}
	}

	return nil
}

// validateObjSpec checks the exactly-one-variant rule for an object entry.
func validateObjSpec(o *ObjSpec) error {
	if _, err := zodb.ParseOid(o.Oid); err != nil {
		return err
	}

	n := 0
	if o.Data != nil {
		n++
	}
	if o.Delete {
		n++
	}
	if o.From != "" {
		n++
	}
	if n != 1 {
		return fmt.Errorf("exactly one of data, delete or from is required")
	}

	if o.From != "" {
		if _, err := zodb.ParseTid(o.From); err != nil {
			return err
		}
	}
	return nil
}
