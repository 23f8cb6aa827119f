package sqlinline

const jobColumns = `id, user_id, prompt, params, status, seed,
    coalesce(model, ''), coalesce(style_type, ''), coalesce(aspect_ratio, ''),
    img_result, coalesce(prompt_enhanced, ''), error_message, locale, is_published,
    created_at, updated_at`

const QInsertJob = `--sql cd2c2c8b-b694-4320-a829-71995bc8e210
insert into generated_images (
    id, user_id, prompt, params, status, seed, model, style_type, aspect_ratio,
    img_result, prompt_enhanced, error_message, locale, is_published, created_at, updated_at
) values (
    $1, $2, $3, $4, $5, $6, nullif($7, ''), nullif($8, ''), nullif($9, ''),
    $10, nullif($11, ''), $12, $13, $14, $15, $16
)
on conflict (id) do nothing;
`

const QSelectJobByID = `--sql 55bdaa48-78a9-4daa-98ed-ceca46c08c6f
select ` + jobColumns + `
from generated_images
where id = $1;
`

const QUpdateJob = `--sql 249e0d8b-915e-48fa-a193-0c847b04f6be
update generated_images
set prompt = $2,
    params = $3,
    status = $4,
    seed = $5,
    model = nullif($6, ''),
    style_type = nullif($7, ''),
    aspect_ratio = nullif($8, ''),
    img_result = $9,
    prompt_enhanced = nullif($10, ''),
    error_message = $11,
    is_published = $12,
    updated_at = $13
where id = $1;
`

const QSelectJobsByUser = `--sql d7dc0f4b-5b62-41d4-890a-2c4f0dbfdda7
select ` + jobColumns + `
from generated_images
where user_id = $1
order by created_at desc;
`

const QDeleteJobForOwner = `--sql 31b1d015-1d32-407f-810a-89bf572d1caa
with target as (
    select id, user_id from generated_images where id = $1
),
deleted as (
    delete from generated_images g
    using target
    where g.id = target.id and target.user_id = $2
    returning g.id
)
select (select user_id from target), exists (select 1 from deleted);
`
