package fixture

// Page-side functions evaluated through [remote.Handle]. Each takes
// ({ ed, monaco }, arg) and returns plain data.
const (
	jsCreateModel = `({ ed, monaco }, { value, uri, language, open }) => {
  const model = monaco.editor.createModel(value, language || undefined, uri ? monaco.Uri.parse(uri) : undefined)
  if (open) {
    ed.setModel(model)
  }
  return { uri: String(model.uri), language: model.getLanguageId() }
}`

	jsOpen = `({ monaco }, entries) => {
  const root = monaco.Uri.parse('file:///')
  return entries.map(([path, value]) => String(monaco.editor.createModel(value, undefined, monaco.Uri.joinPath(root, path)).uri))
}`

	jsSetModel = `({ ed, monaco }, uri) => {
  ed.setModel(monaco.editor.getModel(monaco.Uri.parse(uri)))
}`

	jsSetPosition = `({ ed }, { position, source }) => {
  ed.setPosition(position, source)
}`

	jsTrigger = `({ ed }, { source, handlerId, payload }) => ed.trigger(source, handlerId, payload)`

	jsModels = `({ monaco }) => monaco.editor.getModels().map((model) => ({
  uri: String(model.uri),
  language: model.getLanguageId(),
  versionId: model.getVersionId()
}))`

	jsActiveURI = `({ ed }) => {
  const model = ed.getModel()
  return model ? String(model.uri) : ''
}`

	jsValue = `({ ed, monaco }, uri) => {
  const model = uri ? monaco.editor.getModel(monaco.Uri.parse(uri)) : ed.getModel()
  if (!model) {
    throw new Error('model not found: ' + uri)
  }
  return model.getValue()
}`

	jsPosition = `({ ed }) => ed.getPosition()`

	// jsSerializeMarker is shared by every function reading markers. Resources
	// become strings and structured codes keep their target as a string.
	jsSerializeMarker = `const serializeMarker = ({ code, relatedInformation, resource, ...marker }) => {
  const serialized = { ...marker, resource: String(resource) }
  if (code != null) {
    serialized.code = typeof code === 'string' ? code : { value: code.value, target: String(code.target) }
  }
  if (relatedInformation != null) {
    serialized.relatedInformation = relatedInformation.map((info) => ({ ...info, resource: String(info.resource) }))
  }
  return serialized
}`

	jsMarkers = `({ monaco }, uri) => {
  ` + jsSerializeMarker + `
  return monaco.editor.getModelMarkers({ resource: monaco.Uri.parse(uri) }).map(serializeMarker)
}`

	// jsSubscribeMarkers registers the listener and parks its promise under id
	// without waiting for it.
	jsSubscribeMarkers = `({ monaco }, { id, uri }) => {
  ` + jsSerializeMarker + `
  const waits = (globalThis.__monacoHarnessMarkerWaits ??= new Map())
  let disposable
  let cancel
  const promise = new Promise((resolve, reject) => {
    disposable = monaco.editor.onDidChangeMarkers((resources) => {
      for (const resource of resources) {
        if (String(resource) === uri) {
          disposable.dispose()
          resolve(monaco.editor.getModelMarkers({ resource }).map(serializeMarker))
          return
        }
      }
    })
    cancel = () => {
      disposable.dispose()
      reject(new Error('marker wait cancelled'))
    }
  })
  promise.catch(() => {})
  waits.set(id, { promise, cancel })
  return id
}`

	jsAwaitMarkers = `async (_, id) => {
  const waits = globalThis.__monacoHarnessMarkerWaits
  const wait = waits && waits.get(id)
  if (!wait) {
    throw new Error('unknown marker wait ' + id)
  }
  try {
    return await wait.promise
  } finally {
    waits.delete(id)
  }
}`

	jsCancelMarkers = `(_, id) => {
  const waits = globalThis.__monacoHarnessMarkerWaits
  const wait = waits && waits.get(id)
  if (wait) {
    waits.delete(id)
    wait.cancel()
  }
}`
)
