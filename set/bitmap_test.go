package set

import "testing"

func TestBitmap(t *testing.T) {
	s := MakeBitmap(200)

	for _, i := range []int{0, 63, 64, 100, 199} {
		s.Set(i)
	}

	if s.Size() != 5 {
		t.Errorf("size: %d", s.Size())
	}

	if !s.IsSet(64) || s.IsSet(65) {
		t.Errorf("membership broken")
	}

	if s.First() != 0 {
		t.Errorf("first: %d", s.First())
	}

	s.Clear(0)

	if s.First() != 63 {
		t.Errorf("first after clear: %d", s.First())
	}

	if s.IsSet(100000) {
		t.Errorf("out of range is set")
	}
}

func TestBitmapAnd(t *testing.T) {
	a := MakeBitmap(128)
	b := MakeBitmap(64)

	a.Set(10)
	a.Set(70)
	b.Set(10)

	a.And(b)

	if !a.IsSet(10) {
		t.Errorf("common bit lost")
	}
	if a.IsSet(70) {
		t.Errorf("bit beyond the other set survived")
	}

	c := MakeBitmap(128)
	c.Set(10)
	c.Set(90)

	d := c.AndCopy(a)

	if d.Size() != 1 || !d.IsSet(10) {
		t.Errorf("and copy: %v", d)
	}
	if !c.IsSet(90) {
		t.Errorf("and copy mutated receiver")
	}
}

func TestBitmapRangeClear(t *testing.T) {
	s := MakeBitmap(128)

	for i := 0; i < 128; i += 3 {
		s.Set(i)
	}

	// clearing the current bit during iteration must be safe
	var got []int

	s.Range(func(i int) bool {
		if i%2 == 0 {
			s.Clear(i)
		}

		got = append(got, i)

		return true
	})

	if len(got) != 43 {
		t.Errorf("visited %d bits", len(got))
	}

	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Errorf("order broken at %d: %v", i, got)
		}
	}
}

func TestBitmapOrCopy(t *testing.T) {
	a := MakeBitmap(64)
	b := MakeBitmap(64)

	a.Set(1)
	b.Set(2)

	a.Or(b)

	if !a.IsSet(1) || !a.IsSet(2) {
		t.Errorf("or lost a bit")
	}

	c := a.Copy()
	c.Reset()

	if c.Size() != 0 || a.Size() != 2 {
		t.Errorf("copy is not independent")
	}
}
