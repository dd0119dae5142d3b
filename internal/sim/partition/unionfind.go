package partition

type unionFind struct {
	parent map[Key]Key
	rank   map[Key]int
}

func newUnionFind(keys []Key) *unionFind {
	uf := &unionFind{parent: make(map[Key]Key, len(keys)), rank: make(map[Key]int, len(keys))}
	for _, k := range keys {
		uf.parent[k] = k
	}
	return uf
}

func (u *unionFind) find(k Key) Key {
	root := k
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[k] != root {
		next := u.parent[k]
		u.parent[k] = root
		k = next
	}
	return root
}

func (u *unionFind) union(a, b Key) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}

// groups returns the connected sets in the order their first member appears in keys.
func (u *unionFind) groups(keys []Key) [][]Key {
	idx := map[Key]int{}
	var out [][]Key
	for _, k := range keys {
		r := u.find(k)
		i, ok := idx[r]
		if !ok {
			i = len(out)
			idx[r] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], k)
	}
	return out
}
