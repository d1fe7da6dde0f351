package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sacOO7/ldpos-chain/pkg/utils"
)

// GenesisAccount seeds an account's initial balance and keys.
type GenesisAccount struct {
	Address          string `yaml:"address"`
	Balance          string `yaml:"balance"`
	SigPublicKey     string `yaml:"sigPublicKey,omitempty"`
	ForgingPublicKey string `yaml:"forgingPublicKey,omitempty"`
}

// GenesisDelegate seeds an initial forging delegate.
type GenesisDelegate struct {
	Address    string `yaml:"address"`
	VoteWeight string `yaml:"voteWeight"`
}

// Genesis is the document read from genesisPath (spec.md §6).
type Genesis struct {
	BlockId   string            `yaml:"blockId"`
	Timestamp int64             `yaml:"timestamp"`
	Accounts  []GenesisAccount  `yaml:"accounts"`
	Delegates []GenesisDelegate `yaml:"delegates"`
}

// LoadGenesis reads and parses the YAML genesis document at path.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.Wrap(err, "read genesis file")
	}
	var g Genesis
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, utils.Wrap(err, "parse genesis file")
	}
	return &g, nil
}
