package codegen

// frame maps the local slots in scope to stack items. Items are numbered
// in push order from 1; item k lives 8*(depth-k) bytes above the stack
// pointer. Stack arguments have items of zero and below.
type frame struct {
	scopes []map[int]int
}

func newFrame() *frame {
	return &frame{scopes: []map[int]int{make(map[int]int)}}
}

func (f *frame) EnterScope() {
	f.scopes = append(f.scopes, make(map[int]int))
}

func (f *frame) ExitScope() {
	if len(f.scopes) == 1 {
		panic(&InvariantError{Msg: "scope exit past the function scope"})
	}
	f.scopes = f.scopes[:len(f.scopes)-1]
}

// Define binds slot to item in the innermost scope.
func (f *frame) Define(slot, item int) {
	f.scopes[len(f.scopes)-1][slot] = item
}

// Lookup searches the scopes from the innermost out.
func (f *frame) Lookup(slot int) (int, bool) {
	for i := len(f.scopes) - 1; i >= 0; i-- {
		if item, ok := f.scopes[i][slot]; ok {
			return item, true
		}
	}
	return 0, false
}

// stack is the abstract ML stack of one function: how many words the
// function has pushed since entry at the current point, and the most it
// ever has.
type stack struct {
	depth int
	max   int
}

func (s *stack) grow(n int) {
	s.depth += n
	if s.depth > s.max {
		s.max = s.depth
	}
}

func (s *stack) shrink(n int) {
	s.depth -= n
	if s.depth < 0 {
		panic(&InvariantError{Msg: "abstract stack underflow"})
	}
}

// offset is the distance in bytes from the stack pointer to item.
func (s *stack) offset(item int) int64 { return 8 * int64(s.depth-item) }

// top is the item of the most recent push.
func (s *stack) top() int { return s.depth }
