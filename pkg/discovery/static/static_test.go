package static

import (
    "testing"

    "github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
    cases := []struct {
        in   string
        want []string
    }{
        {"", nil},
        {"a:1", []string{"a:1"}},
        {" a:1 , b:2 ", []string{"a:1", "b:2"}},
        {",,a:1, ,b:2,", []string{"a:1", "b:2"}},
    }
    for _, c := range cases {
        assert.Equal(t, c.want, Parse(c.in), c.in)
    }
}

func TestNew(t *testing.T) {
    r := New(" a:1 ", "", "b:2,c:3")
    got := r.Endpoints()
    assert.Equal(t, []string{"a:1", "b:2", "c:3"}, got)
    got[0] = "x"
    assert.Equal(t, "a:1", r.Endpoints()[0], "Endpoints must return a copy")
}
