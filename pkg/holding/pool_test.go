package holding

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/tapeline/pkg/config"
	"github.com/cuemby/tapeline/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mb = 1024 * 1024

func newTestPool(t *testing.T, capacities ...int64) *Pool {
	t.Helper()
	var disks []config.HoldingDisk
	for i, c := range capacities {
		disks = append(disks, config.HoldingDisk{
			Path:     filepath.Join(t.TempDir(), "hold"+string(rune('a'+i))),
			Capacity: config.Size(c),
		})
	}
	p, err := NewPool(disks, NewLocalLayout("run-1"))
	require.NoError(t, err)
	return p
}

func job(host, disk string) *types.DiskJob {
	return &types.DiskJob{Host: host, Disk: disk, Level: 1}
}

func TestFindSpacePrefersMostFree(t *testing.T) {
	p := newTestPool(t, 100*mb, 300*mb, 200*mb)

	d := p.FindSpace(50 * mb)
	require.NotNil(t, d)
	assert.Equal(t, int64(300*mb), d.Capacity)

	assert.Nil(t, p.FindSpace(301*mb))

	_, err := p.Assign(job("a", "/"), d, 250*mb)
	require.NoError(t, err)

	d = p.FindSpace(50 * mb)
	require.NotNil(t, d)
	assert.Equal(t, int64(200*mb), d.Capacity)

	p.Disable()
	assert.Nil(t, p.FindSpace(1))
	assert.Zero(t, p.TotalFree())
}

func TestAssign(t *testing.T) {
	p := newTestPool(t, 100*mb)
	d := p.Disks()[0]
	j := job("db1", "/var/lib")

	path, err := p.Assign(j, d, 80*mb)
	require.NoError(t, err)
	assert.Equal(t, path, j.DestPath)
	assert.Equal(t, "db1._var_lib.1", filepath.Base(path))
	assert.Equal(t, int64(20*mb), d.Free())
	assert.Equal(t, int64(80*mb), d.Reservation(j.ID()))

	_, err = p.Assign(job("db2", "/"), d, 80*mb)
	assert.ErrorIs(t, err, ErrNoSpace)
	assert.Equal(t, int64(20*mb), d.Free())
}

func TestAdjust(t *testing.T) {
	p := newTestPool(t, 100*mb)
	d := p.Disks()[0]
	j := job("db1", "/")

	assert.ErrorIs(t, p.Adjust(j, 10), ErrUnknownJob)

	_, err := p.Assign(j, d, 50*mb)
	require.NoError(t, err)

	require.NoError(t, p.Adjust(j, 30*mb))
	assert.Equal(t, int64(30*mb), p.Reserved(j))
	assert.Equal(t, int64(70*mb), d.Free())

	require.NoError(t, p.Adjust(j, 90*mb))
	assert.Equal(t, int64(10*mb), d.Free())

	assert.ErrorIs(t, p.Adjust(j, 101*mb), ErrNoSpace)
	assert.Equal(t, int64(90*mb), p.Reserved(j))

	j.Written = 40 * mb
	assert.ErrorIs(t, p.Adjust(j, 39*mb), ErrBelowWritten)
	require.NoError(t, p.Adjust(j, 40*mb))
}

func TestAdjustShrinksAcrossChunks(t *testing.T) {
	p := newTestPool(t, 100*mb, 100*mb)
	j := job("db1", "/")

	_, err := p.Assign(j, p.Disks()[0], 30*mb)
	require.NoError(t, err)
	path, err := p.Assign(j, p.Disks()[1], 40*mb)
	require.NoError(t, err)
	assert.Equal(t, "db1._.1.1", filepath.Base(path))

	require.NoError(t, p.Adjust(j, 20*mb))
	chunks := p.Chunks(j)
	require.Len(t, chunks, 2)
	assert.Equal(t, int64(20*mb), chunks[0].Bytes)
	assert.Equal(t, int64(0), chunks[1].Bytes)
	assert.Equal(t, int64(100*mb), p.Disks()[1].Free())
}

func TestReleaseRemovesFiles(t *testing.T) {
	p := newTestPool(t, 100*mb)
	d := p.Disks()[0]
	j := job("db1", "/")

	path, err := p.Assign(j, d, 10*mb)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("image"), 0600))

	assert.Equal(t, int64(10*mb), p.Release(j))
	assert.Equal(t, int64(100*mb), d.Free())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	assert.Zero(t, p.Release(j), "second release is a no-op")

	p.Cleanup()
	_, err = os.Stat(filepath.Join(d.Path, "run-1"))
	assert.True(t, os.IsNotExist(err), "empty run directory removed")
}

func TestCleanupKeepsUnflushedImages(t *testing.T) {
	p := newTestPool(t, 100*mb)
	d := p.Disks()[0]
	path, err := p.Assign(job("db1", "/"), d, 10*mb)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("image"), 0600))

	p.Cleanup()
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

// Reservations never exceed capacity whatever the sequence of operations
func TestCapacityInvariant(t *testing.T) {
	p := newTestPool(t, 100*mb, 60*mb)
	rng := rand.New(rand.NewSource(7))
	jobs := []*types.DiskJob{job("a", "/"), job("b", "/"), job("c", "/"), job("d", "/")}

	for i := 0; i < 2000; i++ {
		j := jobs[rng.Intn(len(jobs))]
		size := int64(rng.Intn(80)) * mb
		switch rng.Intn(3) {
		case 0:
			if d := p.FindSpace(size); d != nil {
				_, err := p.Assign(j, d, size)
				require.NoError(t, err)
			}
		case 1:
			_ = p.Adjust(j, size)
		case 2:
			p.Release(j)
		}
		for _, d := range p.Disks() {
			require.GreaterOrEqual(t, d.Free(), int64(0), "disk %s overcommitted", d.Path)
			var sum int64
			for _, jj := range jobs {
				sum += d.Reservation(jj.ID())
			}
			require.Equal(t, d.Reserved(), sum)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "_var_lib", SanitizeName("/var/lib"))
	assert.Equal(t, "C__My_Docs", SanitizeName("C:/My Docs"))
	assert.Equal(t, "db1.example.com", SanitizeName("db1.example.com"))
}

func TestCouldFit(t *testing.T) {
	p := newTestPool(t, 100*mb, 40*mb)
	_, err := p.Assign(job("a", "/"), p.Disks()[0], 90*mb)
	require.NoError(t, err)

	assert.Nil(t, p.FindSpace(60*mb))
	assert.True(t, p.CouldFit(60*mb), "fits once the first disk drains")
	assert.False(t, p.CouldFit(101*mb))

	p.Disable()
	assert.False(t, p.CouldFit(1))
}
