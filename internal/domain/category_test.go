package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCategory(t *testing.T) {
	cases := []struct {
		question string
		want     Category
	}{
		{"Will Bitcoin close above $100k?", CategoryCrypto},
		{"Will ETH flip BTC?", CategoryCrypto},
		{"Who wins the Champions League final?", CategorySports},
		{"Will the incumbent win the election?", CategoryPolitics},
		{"Does the movie break the box office record?", CategoryEntertainment},
		{"Will the rocket launch succeed this quarter?", CategoryScience},
		{"Will it rain tomorrow?", CategoryOther},
		{"", CategoryOther},
	}
	for _, tc := range cases {
		t.Run(string(tc.want)+"/"+tc.question, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyCategory(tc.question))
		})
	}
}
