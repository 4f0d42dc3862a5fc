package fallback

import (
	"testing"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/log"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lineText = `Some preamble the model added.

Node: R1 | Type: LOCATION | Title: Capital City
Parent: null
Content: The seat of the crown, built on seven hills.

Node: R1-1 | Type: FACTION | Title: Royal Guard
Parent: R1 [Capital City]
Content: Sworn protectors of the royal family.
They answer only to the queen.

Node: R1-2 | Title: Old Market
Parent is: R1
Content: Stalls, smugglers and rumors.`

func TestLineParser(t *testing.T) {
	p := LineParser{}
	require.True(t, p.CanParse(lineText))

	specs, err := p.Parse(lineText)
	require.NoError(t, err)
	require.Len(t, specs, 3)

	assert.Equal(t, setting.NodeSpec{
		TempID:      "R1",
		Type:        "LOCATION",
		Name:        "Capital City",
		Description: "The seat of the crown, built on seven hills.",
	}, specs[0])
	assert.Equal(t, "R1", specs[1].ParentID)
	assert.Equal(t, "Sworn protectors of the royal family.\nThey answer only to the queen.", specs[1].Description)
	assert.Equal(t, "", specs[2].Type)
	assert.Equal(t, "R1", specs[2].ParentID)

	assert.False(t, p.CanParse("just prose without structure"))
}

func TestJSONParser_Fenced(t *testing.T) {
	text := "Here you go:\n```json\n[{\"tempId\":\"R1\",\"name\":\"Empire\",\"type\":\"FACTION\",\"description\":\"Vast.\",\"parentId\":null}]\n```\nDone."
	p := JSONParser{}
	require.True(t, p.CanParse(text))

	specs, err := p.Parse(text)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "Empire", specs[0].Name)
	assert.Equal(t, "", specs[0].ParentID)
}

func TestJSONParser_RepairsMalformedJSON(t *testing.T) {
	text := `{settings: [{name: 'Blade', type: 'ITEM', description: 'Sharp',},]}`
	specs, err := JSONParser{}.Parse(text)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "Blade", specs[0].Name)
}

func TestDecodeNodeList(t *testing.T) {
	list, err := DecodeNodeList(`{"nodes":[{"name":"A","type":"LORE","description":"x"}],"complete":true}`)
	require.NoError(t, err)
	assert.True(t, list.Complete)
	assert.Len(t, list.All(), 1)

	list, err = DecodeNodeList(`{"settings":[{"name":"Legacy"}]}`)
	require.NoError(t, err)
	assert.Equal(t, "Legacy", list.All()[0].Name)

	list, err = DecodeNodeList(`[{"name":"B"}]`)
	require.NoError(t, err)
	assert.Equal(t, "B", list.All()[0].Name)
}

func TestExtractJSON(t *testing.T) {
	got, err := ExtractJSON(`prefix [1, [2]] suffix`)
	require.NoError(t, err)
	assert.Equal(t, `[1, [2]]`, got)

	_, err = ExtractJSON("nothing here")
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestChain_FirstMatchWins(t *testing.T) {
	chain := NewChain(log.NoOpLogger{})

	specs, name := chain.Parse(lineText)
	assert.Equal(t, "lines", name)
	assert.Len(t, specs, 3)

	specs, name = chain.Parse(`[{"name":"Empire","type":"FACTION","description":"Vast."}]`)
	assert.Equal(t, "json", name)
	assert.Len(t, specs, 1)

	specs, name = chain.Parse("nothing usable")
	assert.Empty(t, specs)
	assert.Empty(t, name)
}
