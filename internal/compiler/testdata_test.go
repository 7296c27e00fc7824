package compiler

// Module documents shared by the loader tests.

const straightLine = `
name: straight
declarations:
  - {name: malloc, type: "i8* (i64)", attrs: [allocator]}
functions:
  - name: first
    type: "i8 (i8*)"
    params: [p]
    blocks:
      - name: entry
        instrs:
          - {op: load, name: v, type: i8, args: ["%p"]}
          - {op: ret, args: ["%v"]}
  - name: alloc
    type: "i8* ()"
    blocks:
      - name: entry
        instrs:
          - {op: call, name: m, callee: "@malloc", args: ["16"]}
          - {op: gep, name: q, type: "i8*", args: ["%m", "4"]}
          - {op: store, args: ["0:i8", "%q"]}
          - {op: ret, args: ["%m"]}
`

const loopModule = `
name: loop
functions:
  - name: walk
    type: "void (i8*, i8*)"
    params: [p, end]
    blocks:
      - name: entry
        instrs:
          - {op: br, targets: [loop]}
      - name: loop
        instrs:
          - {op: phi, name: q, type: "i8*", incoming: [["%p", entry], ["%q.next", loop]]}
          - {op: load, name: c, type: i8, args: ["%q"]}
          - {op: gep, name: q.next, type: "i8*", args: ["%q", "1"]}
          - {op: icmp, name: done, type: i1, pred: eq, args: ["%q.next", "%end"]}
          - {op: br, args: ["%done"], targets: [exit, loop]}
      - name: exit
        instrs:
          - {op: ret}
`

const twoPhiCycle = `
name: pingpong
functions:
  - name: swap
    type: "void (i8*, i8*, i1)"
    params: [a, b, c]
    blocks:
      - name: entry
        instrs:
          - {op: br, targets: [loop]}
      - name: loop
        instrs:
          - {op: phi, name: x, type: "i8*", incoming: [["%a", entry], ["%y", loop]]}
          - {op: phi, name: y, type: "i8*", incoming: [["%b", entry], ["%x", loop]]}
          - {op: br, args: ["%c"], targets: [loop, exit]}
      - name: exit
        instrs:
          - {op: ret}
`
