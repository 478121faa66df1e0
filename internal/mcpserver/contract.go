package mcpserver

// MappingContract describes how vault content lands in the wiki. It is served
// to LLM clients so they can predict the effect of a sync.
const MappingContract = `# Vault to BookStack mapping

## Hierarchy

| Vault                                         | Wiki                          |
|-----------------------------------------------|-------------------------------|
| top-level folder with note-bearing subfolders | shelf                         |
| top-level folder with notes only              | standalone book               |
| notes directly inside a shelf folder          | book named like the shelf     |
| subfolder of a shelf folder                   | book on that shelf            |
| subfolder of a book folder                    | chapter                       |
| notes in the vault root                       | the default book ("Vault")    |
| deeper folders                                | folded into the chapter       |

Folded folders either prefix the page name ("Sub / Deeper / Title", policy
` + "`prefix`" + `) or are dropped (policy ` + "`flatten`" + `). Every fold is reported as a
MappingPolicy warning.

## Names

- A page is named after the frontmatter ` + "`title`" + `, else the file name without ` + "`.md`" + `.
- Siblings of the same level never share a name: the first by path keeps it,
  later ones become "Name (source/path.md)".
- ` + "`publish: false`" + ` or ` + "`bookstack: false`" + ` in frontmatter keeps a note out of the wiki.

## Links

- ` + "`[[Note]]`" + `, ` + "`[[Note|text]]`" + ` and ` + "`[[Note#Heading]]`" + ` become native page links.
- ` + "`![[image.png]]`" + ` uploads the file once per run and embeds it; other files
  become download links.
- Links that match nothing, or several notes outside the vault root, stay as
  written followed by " _(broken link)_".

## Runs

- The vault is the source of truth; nothing is ever deleted from the wiki.
- A second run over an unchanged vault changes nothing.
- Exit codes: 0 success, 1 fatal (no changes made), 2 partial failure.
`
