package pager

import "testing"

func TestContainerCatalog_RegisterThenGet(t *testing.T) {
	cc := NewContainerCatalog(t.TempDir(), false)
	c, err := cc.RegisterContainer(1, "orders", ContainerTable, nil)
	if err != nil {
		t.Fatalf("RegisterContainer: %v", err)
	}
	if c.PageCount() != 0 {
		t.Fatalf("expected a fresh container to have 0 pages, got %d", c.PageCount())
	}
	got, err := cc.GetContainer(1)
	if err != nil {
		t.Fatalf("GetContainer: %v", err)
	}
	if got != c {
		t.Fatal("expected GetContainer to return the same Container instance")
	}
}

func TestContainerCatalog_RegisterTwiceFails(t *testing.T) {
	cc := NewContainerCatalog(t.TempDir(), false)
	if _, err := cc.RegisterContainer(1, "t", ContainerTable, nil); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := cc.RegisterContainer(1, "t", ContainerTable, nil); err == nil {
		t.Fatal("expected second register of the same id to fail")
	}
}

func TestContainerCatalog_GetContainerLazilyCreates(t *testing.T) {
	cc := NewContainerCatalog(t.TempDir(), false)
	c, err := cc.GetContainer(5)
	if err != nil {
		t.Fatalf("GetContainer: %v", err)
	}
	if c.ID != 5 {
		t.Fatalf("expected lazily-created container id 5, got %d", c.ID)
	}
}

func TestContainerCatalog_NextPageIDMonotone(t *testing.T) {
	cc := NewContainerCatalog(t.TempDir(), false)
	c, _ := cc.RegisterContainer(1, "t", ContainerTable, nil)
	var ids []PageID
	for i := 0; i < 5; i++ {
		ids = append(ids, c.nextPageID())
	}
	for i, id := range ids {
		if id != PageID(i) {
			t.Fatalf("expected sequential page ids, got %v", ids)
		}
	}
}

func TestContainerCatalog_RemoveContainer(t *testing.T) {
	cc := NewContainerCatalog(t.TempDir(), false)
	cc.RegisterContainer(1, "t", ContainerTable, nil)
	if err := cc.RemoveContainer(1); err != nil {
		t.Fatalf("RemoveContainer: %v", err)
	}
	if err := cc.RemoveContainer(1); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on second remove, got %v", err)
	}
}

func TestContainerCatalog_IsTemp(t *testing.T) {
	cc := NewContainerCatalog(t.TempDir(), false)
	c, _ := cc.RegisterContainer(9, "spill", ContainerTemporary, nil)
	if !c.IsTemp() {
		t.Fatal("expected temporary container to report IsTemp() true")
	}
}
