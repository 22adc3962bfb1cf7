package sched

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weensyos/kernel/cpu"
	"weensyos/kernel/image"
	"weensyos/kernel/mm"
	"weensyos/kernel/mm/pmm"
	"weensyos/kernel/mm/vmm"
	"weensyos/kernel/proc"
)

var testImage = &image.Image{
	Name:  "test",
	Entry: mm.ProcStartAddr,
	Segments: []image.Segment{
		{VA: mm.ProcStartAddr, Size: mm.PageSize, Data: []byte{0xcc}},
	},
}

func newTestTable(t *testing.T, pids ...int) *proc.Table {
	mem := mm.NewPhysicalMemory(mm.MemSizePhysical)
	alloc := pmm.New(mem)
	kernelPDT, err := vmm.NewKernelPDT(mem, alloc)
	require.Nil(t, err)

	table := proc.NewTable(mem, alloc, kernelPDT)
	for _, pid := range pids {
		require.Nil(t, table.Setup(pid, testImage, 0, 0))
	}
	return table
}

func resumed(t *testing.T, d Decision) int {
	t.Helper()
	r, ok := d.(Resume)
	require.True(t, ok, "expected a Resume decision; got %T", d)
	return r.Proc.PID
}

func expectHalt(t *testing.T, fn func()) {
	t.Helper()

	var halted *cpu.Halted
	func() {
		defer func() {
			halted, _ = recover().(*cpu.Halted)
		}()
		fn()
	}()
	require.NotNil(t, halted, "expected the kernel to halt")
}

type recordingDisplay struct {
	shown []int
}

func (d *recordingDisplay) Show(p *proc.Process) {
	if p == nil {
		d.shown = append(d.shown, 0)
		return
	}
	d.shown = append(d.shown, p.PID)
}

type fakeKeyboard struct {
	polls int
	quit  bool
}

func (k *fakeKeyboard) Poll() bool {
	k.polls++
	return k.quit
}

func TestScheduleFairness(t *testing.T) {
	specs := [][]int{
		{1},
		{1, 2, 3, 4},
		{2, 5, 15},
		{1, 3, 4, 7, 8, 11, 12, 15},
	}

	for specIndex, pids := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			s := New(newTestTable(t, pids...), 100, nil, nil)

			for round := 0; round < 3; round++ {
				visited := make(map[int]bool)
				for range pids {
					visited[resumed(t, s.Schedule())] = true
				}
				assert.Len(t, visited, len(pids), "round %d", round)
			}
		})
	}
}

func TestScheduleOrder(t *testing.T) {
	table := newTestTable(t, 1, 2, 3)
	s := New(table, 100, nil, nil)

	var got []int
	for range 7 {
		got = append(got, resumed(t, s.Schedule()))
	}
	assert.Equal(t, []int{1, 2, 3, 1, 2, 3, 1}, got)
	assert.Equal(t, 1, table.Current().PID)
}

func TestScheduleSleeperDoesNotStarveOthers(t *testing.T) {
	table := newTestTable(t, 1, 2, 3)
	s := New(table, 100, nil, nil)

	runs := make(map[int]int)
	pid := resumed(t, s.Schedule())
	for range 60 {
		runs[pid]++

		// pid 1 sleeps for a single tick every time it runs while the
		// others drive the timer.
		if pid == 1 {
			table.Sleep(table.Get(1), 1)
		} else {
			table.Tick()
		}
		pid = resumed(t, s.Schedule())
	}

	for pid := 1; pid <= 3; pid++ {
		assert.Greater(t, runs[pid], 0, "pid %d never ran; runs: %v", pid, runs)
	}
	assert.InDelta(t, runs[2], runs[3], 1, "runs: %v", runs)
}

func TestScheduleIdle(t *testing.T) {
	table := newTestTable(t, 1)
	table.Get(1).State = proc.StateFaulted

	s := New(table, 100, nil, nil)
	assert.Equal(t, Idle{}, s.Schedule())
}

func TestScheduleSleepWake(t *testing.T) {
	table := newTestTable(t, 1, 2)
	s := New(table, 100, nil, nil)

	const sleepTicks = 3
	table.Sleep(table.Get(1), sleepTicks)

	for tick := 1; tick < sleepTicks; tick++ {
		table.Tick()
		for range proc.NProc {
			require.Equal(t, 2, resumed(t, s.Schedule()), "sleeper picked after %d ticks", tick)
		}
	}

	table.Tick()
	assert.Equal(t, 1, resumed(t, s.Schedule()), "woken process must be picked right after its last tick")
}

func TestScheduleReapsZombies(t *testing.T) {
	table := newTestTable(t, 1, 2)
	alloc := table.Allocator()
	s := New(table, 100, nil, nil)

	beforeSecond := alloc.FreeCount()
	require.Nil(t, table.Kill(table.Get(1), 2))
	require.Equal(t, proc.StateZombie, table.Get(2).State)

	assert.Equal(t, 1, resumed(t, s.Schedule()))
	assert.Equal(t, proc.StateFree, table.Get(2).State)
	assert.Nil(t, table.Get(2).PageTable)
	assert.Greater(t, alloc.FreeCount(), beforeSecond)
	require.Nil(t, table.CheckAccounting())

	// self kill leaves nothing to run
	require.Nil(t, table.Kill(table.Get(1), 1))
	assert.Equal(t, Idle{}, s.Schedule())
	assert.Equal(t, proc.StateFree, table.Get(1).State)
}

func TestRun(t *testing.T) {
	table := newTestTable(t, 1)
	s := New(table, 100, nil, nil)
	p := table.Get(1)

	assert.Equal(t, Resume{Proc: p}, s.Run(p))
	assert.Equal(t, p, table.Current())

	t.Run("not runnable", func(t *testing.T) {
		p.State = proc.StateSleeping
		defer func() { p.State = proc.StateRunnable }()

		expectHalt(t, func() { s.Run(p) })
	})

	t.Run("broken page table", func(t *testing.T) {
		require.Nil(t, p.PageTable.Unmap(mm.PageFromAddress(mm.ConsoleAddr)))
		expectHalt(t, func() { s.Run(p) })
	})

	t.Run("free slot", func(t *testing.T) {
		free := table.Get(5)
		free.State = proc.StateRunnable
		defer func() { free.State = proc.StateFree }()

		expectHalt(t, func() { s.Run(free) })
	})
}

func TestMemshow(t *testing.T) {
	table := newTestTable(t, 1, 3)
	display := &recordingDisplay{}
	s := New(table, 10, display, nil)

	s.Memshow()
	for range 4 {
		s.Memshow()
	}
	table.Ticks += 5
	s.Memshow()
	table.Ticks += 4
	s.Memshow()
	table.Ticks += 1
	s.Memshow()

	assert.Equal(t, []int{1, 1, 1, 1, 1, 3, 3, 1}, display.shown)

	table.Exit(table.Get(1))
	table.Exit(table.Get(3))
	table.Ticks += 5
	s.Memshow()
	assert.Equal(t, 0, display.shown[len(display.shown)-1])
}

func TestCheckKeyboard(t *testing.T) {
	kbd := &fakeKeyboard{}
	s := New(newTestTable(t), 100, nil, kbd)

	s.CheckKeyboard()
	assert.False(t, s.QuitRequested())

	kbd.quit = true
	s.CheckKeyboard()
	assert.True(t, s.QuitRequested())

	// the request stays latched
	kbd.quit = false
	s.CheckKeyboard()
	assert.True(t, s.QuitRequested())
}

func TestSpin(t *testing.T) {
	kbd := &fakeKeyboard{}
	display := &recordingDisplay{}
	s := New(newTestTable(t, 1), 100, display, kbd)

	for range 2 * (spinRefreshMask + 1) {
		s.Spin()
	}

	assert.Equal(t, uint64(2*(spinRefreshMask+1)), s.Spins())
	assert.Equal(t, 2*(spinRefreshMask+1), kbd.polls)
	assert.Equal(t, []int{1, 1}, display.shown)
}
