package solutil

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-delve/tele/pkg/proc/regset"
)

func fillRandom(t *testing.T, rnd *rand.Rand, p interface{}) {
	buf := make([]byte, binary.Size(p))
	rnd.Read(buf)
	require.NoError(t, binary.Read(bytes.NewReader(buf), binary.LittleEndian, p))
}

func TestAMD64RoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(5))
	for i := 0; i < 20; i++ {
		var gp AMD64Regset
		var fp AMD64Fpregset
		fillRandom(t, rnd, &gp)
		fillRandom(t, rnd, &fp)

		rs := regset.New(regset.AMD64)
		gp.Canonicalize(&rs, regset.All)
		fp.Canonicalize(&rs, regset.All)

		gp2, fp2 := gp, fp
		gp2.Decanonicalize(rs, regset.All)
		fp2.Decanonicalize(rs, regset.All)
		require.Equal(t, gp, gp2)
		require.Equal(t, fp, fp2)
		require.Equal(t, uint64(gp.Rip), rs.PC())
	}
}

func TestSPARCV9RoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(6))
	for i := 0; i < 20; i++ {
		var gp SPARCV9Regset
		var fp SPARCV9Fpregset
		fillRandom(t, rnd, &gp)
		fillRandom(t, rnd, &fp)

		rs := regset.New(regset.SPARCV9)
		gp.Canonicalize(&rs, regset.All)
		fp.Canonicalize(&rs, regset.All)

		gp2, fp2 := gp, fp
		gp2.Decanonicalize(rs, regset.All)
		fp2.Decanonicalize(rs, regset.All)
		require.Equal(t, gp, gp2)
		require.Equal(t, fp, fp2)

		require.Equal(t, uint64(gp.Reg[sparcPC]), rs.PC())
		require.Equal(t, uint64(gp.Reg[14]), rs.SP())
		require.Equal(t, uint64(gp.Reg[sparcCCR]), rs.Flags())
	}
}

func TestSPARCV9PreservesASI(t *testing.T) {
	var gp SPARCV9Regset
	gp.Reg[sparcASI] = 0x82
	gp.Reg[sparcFPRS] = 4
	rs := regset.New(regset.SPARCV9)
	rs.SetPC(0x10000)
	gp.Decanonicalize(rs, regset.All)
	require.Equal(t, int64(0x82), gp.Reg[sparcASI])
	require.Equal(t, int64(4), gp.Reg[sparcFPRS])
	require.Equal(t, int64(0x10000), gp.Reg[sparcPC])
}
